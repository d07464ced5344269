// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/control"
	"github.com/momentics/hioload-evloop/facade"
	"github.com/momentics/hioload-evloop/reactor"
	"github.com/spf13/cobra"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Loops     int
	Producers int
	Tasks     int
	Work      time.Duration

	// ReactorFactory overrides the loops' reactor. Used by tests.
	ReactorFactory reactor.Factory
}

// LoopReport is the outcome of flooding one loop.
type LoopReport struct {
	Name        string `json:"name"`
	Executed    uint64 `json:"executed"`
	Rejected    uint64 `json:"rejected"`
	DelayMicros uint64 `json:"delay_us"`
	Samples     uint64 `json:"delay_samples"`
}

// BenchReport summarises a bench run.
type BenchReport struct {
	Elapsed   time.Duration `json:"elapsed_ns"`
	Submitted uint64        `json:"submitted"`
	Accepted  uint64        `json:"accepted"`
	// PerPriority counts accepted tasks indexed by api.Priority.
	PerPriority [api.NumPriorities]uint64 `json:"per_priority"`
	Loops       []LoopReport             `json:"loops"`
}

func (r BenchReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "elapsed %v, submitted %d, accepted %d (lo %d, mid %d, hi %d)\n",
		r.Elapsed.Round(time.Microsecond), r.Submitted, r.Accepted,
		r.PerPriority[api.PriorityLow], r.PerPriority[api.PriorityMid], r.PerPriority[api.PriorityHigh])
	for _, l := range r.Loops {
		fmt.Fprintf(&b, "  %-12s executed=%d rejected=%d delay=%dus samples=%d\n",
			l.Name, l.Executed, l.Rejected, l.DelayMicros, l.Samples)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	return newBenchCommand(&BenchOptions{RootOptions: rootOpts})
}

func newBenchCommand(opts *BenchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Flood event loops across priorities and report delay",
		Long: `Start --loops worker loops, have --producers goroutines submit --tasks
tasks each, cycling through the low, mid and high priorities, wait for every
accepted task and report executed, rejected and scheduling-delay counters.

Example:
  evloopd bench --loops 4 --producers 8 --tasks 100000 --work 2us`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Loops <= 0 || opts.Producers <= 0 || opts.Tasks <= 0 {
				return WrapExitError(ExitCommandError, "loops, producers and tasks must be > 0", nil)
			}
			report, err := runBench(opts)
			if err != nil {
				return err
			}
			out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(uuid.NewString(), report)
		},
	}
	cmd.Flags().IntVar(&opts.Loops, "loops", 2, "number of worker loops")
	cmd.Flags().IntVar(&opts.Producers, "producers", 4, "number of submitting goroutines")
	cmd.Flags().IntVar(&opts.Tasks, "tasks", 10000, "tasks per producer")
	cmd.Flags().DurationVar(&opts.Work, "work", 0, "busy time spent in each task")
	return cmd
}

func runBench(opts *BenchOptions) (BenchReport, error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return BenchReport{}, err
	}
	cfg.Loops = []control.LoopConfig{{Name: "bench", Type: "worker", Count: opts.Loops}}
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	cfg.Metastore.Driver = control.DriverMemory

	var fopts []facade.Option
	if opts.ReactorFactory != nil {
		fopts = append(fopts, facade.WithReactorFactory(opts.ReactorFactory))
	}
	eng, err := facade.New(cfg, fopts...)
	if err != nil {
		return BenchReport{}, WrapExitError(ExitCommandError, "engine init failed", err)
	}
	if err := eng.Start(); err != nil {
		eng.Shutdown()
		return BenchReport{}, WrapExitError(ExitFailure, "engine start failed", err)
	}
	loops := eng.Loops()

	var (
		wg          sync.WaitGroup
		producers   sync.WaitGroup
		accepted    atomic.Uint64
		perPriority [api.NumPriorities]atomic.Uint64
	)
	work := opts.Work
	task := func() {
		if work > 0 {
			for deadline := time.Now().Add(work); time.Now().Before(deadline); {
			}
		}
		wg.Done()
	}

	start := time.Now()
	for p := 0; p < opts.Producers; p++ {
		producers.Add(1)
		go func(p int) {
			defer producers.Done()
			for i := 0; i < opts.Tasks; i++ {
				l := loops[(p+i)%len(loops)]
				prio := api.Priority(i % api.NumPriorities)
				wg.Add(1)
				if err := l.AddWithPriority(task, prio); err != nil {
					wg.Done()
					continue
				}
				accepted.Add(1)
				perPriority[prio].Add(1)
			}
		}(p)
	}
	producers.Wait()
	wg.Wait()

	report := BenchReport{
		Elapsed:   time.Since(start),
		Submitted: uint64(opts.Producers * opts.Tasks),
		Accepted:  accepted.Load(),
	}
	for i := range perPriority {
		report.PerPriority[i] = perPriority[i].Load()
	}
	for _, l := range loops {
		st := l.Stats()
		report.Loops = append(report.Loops, LoopReport{
			Name:        st.Name,
			Executed:    st.Executed,
			Rejected:    st.Rejected,
			DelayMicros: st.DelayMicros,
			Samples:     st.DelaySamples,
		})
	}
	if err := eng.Shutdown(); err != nil {
		return report, WrapExitError(ExitFailure, "engine shutdown failed", err)
	}
	return report, nil
}
