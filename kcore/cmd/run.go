package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/sarchlab/kcore/kernel"
	"github.com/sarchlab/kcore/monitoring"
	"github.com/sarchlab/kcore/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot a kernel and run workloads on it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()

		if flags.Changed("record-path") {
			cfg.RecordPath, _ = flags.GetString("record-path")
		}

		if flags.Changed("port") {
			cfg.MonitorPort, _ = flags.GetInt("port")
		}

		if flags.Changed("open-browser") {
			cfg.OpenBrowser, _ = flags.GetBool("open-browser")
		}

		workload, _ := flags.GetString("workload")
		if workload != "memory" && workload != "threads" && workload != "all" {
			return fmt.Errorf("unknown workload %q", workload)
		}

		return runWorkloads(cmd, workload)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("workload", "all",
		"workload to run: memory, threads, or all")
	runCmd.Flags().Int("rounds", 8, "regions per VM pool in the memory workload")
	runCmd.Flags().Int("threads", 3, "I/O threads in the thread workload")
	runCmd.Flags().Int("iterations", 4, "disk round trips per I/O thread")
	runCmd.Flags().Bool("record", false, "record kernel events to SQLite")
	runCmd.Flags().String("record-path", "", "recording file name, without extension")
	runCmd.Flags().Bool("monitor", false, "serve the monitor while running")
	runCmd.Flags().Int("port", 0, "monitor port, 0 for a random one")
	runCmd.Flags().Bool("open-browser", false, "open the monitor in a browser")
	runCmd.Flags().Duration("hold", 0, "keep the monitor up after the workloads")
}

func runWorkloads(cmd *cobra.Command, workload string) error {
	flags := cmd.Flags()
	rounds, _ := flags.GetInt("rounds")
	threads, _ := flags.GetInt("threads")
	iterations, _ := flags.GetInt("iterations")
	record, _ := flags.GetBool("record")
	monitor, _ := flags.GetBool("monitor")
	hold, _ := flags.GetDuration("hold")

	k := kernel.MakeBuilder().WithConfig(cfg).Build("Kernel")

	counter := tracing.NewCountTracer()
	tracing.Attach(counter, k.Hookables()...)

	if cfg.Level() <= slog.LevelDebug {
		tracing.Attach(tracing.NewLogTracer(nil), k.Hookables()...)
	}

	if record {
		recorder := datarecording.New(cfg.RecordPath)
		defer func() {
			if err := recorder.Close(); err != nil {
				slog.Error("cannot close recording", "error", err)
			}
		}()

		tracing.Attach(tracing.NewRecordingTracer(recorder), k.Hookables()...)
	}

	var (
		m   *monitoring.Monitor
		bar *monitoring.ProgressBar
	)

	steps := uint64(1)
	if workload == "all" {
		steps = 2
	}

	if monitor {
		m = monitoring.NewMonitor().WithPortNumber(cfg.MonitorPort)
		m.RegisterKernel(k)

		url := m.StartServer()
		if cfg.OpenBrowser {
			m.OpenInBrowser(url)
		}

		bar = m.CreateProgressBar("workloads", steps)
	}

	out := cmd.OutOrStdout()

	if workload == "memory" || workload == "all" {
		report, err := k.RunMemoryWorkload(rounds)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "memory: %d regions, %d words, %d faults\n",
			report.Regions, report.Words, report.Faults)

		if bar != nil {
			bar.IncrementFinished(1)
		}
	}

	if workload == "threads" || workload == "all" {
		report, err := k.RunThreadWorkload(threads, iterations)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "threads: %d threads, %d yields, %d disk ops\n",
			report.Threads, report.Yields, report.DiskOps)

		if bar != nil {
			bar.IncrementFinished(1)
		}
	}

	for _, name := range counter.Names() {
		fmt.Fprintf(out, "%-20s %d\n", name, counter.CountByName(name))
	}

	if m != nil && hold > 0 {
		slog.Info("holding the monitor", "duration", hold)
		time.Sleep(hold)
	}

	return nil
}
