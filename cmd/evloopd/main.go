// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command evloopd runs and benchmarks per-thread event loops.
package main

import (
	"fmt"
	"os"

	"github.com/momentics/hioload-evloop/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "evloopd:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
