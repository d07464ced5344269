// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Exit codes for evloopd commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2 // bad flags, unreadable or invalid configuration
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err; ExitFailure for other errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of command output.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

// Formatter writes command results as text or JSON.
type Formatter struct {
	Format string
	Writer io.Writer
}

// Success writes data. Text output uses fmt's default formatting unless
// data implements fmt.Stringer.
func (f *Formatter) Success(runID string, data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data, RunID: runID})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}
