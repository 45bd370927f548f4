package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rachelqdao/PipelineTaskScheduling/internal/api"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/cache"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/config"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/input"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/reporter"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/runner"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sim"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/state"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/sweep"
	"github.com/rachelqdao/PipelineTaskScheduling/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagJSON    bool
	flagNoColor bool
	flagNoCache bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipesched",
		Short: "Simulate a resource-capped multi-stage pipeline and report its makespan",
		Long: `pipesched runs every sample through an ordered list of stages on one
machine with fixed CPU and memory caps. Jobs are admitted greedily, stage
first then sample, and the simulated clock jumps from one job completion to
the next until the last job finishes.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagNoColor || flagJSON {
				ui.SetEnabled(false)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "pipesched.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "Do not read or write the result cache")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log every admission and retirement to stderr")

	rootCmd.AddCommand(calcCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRunner builds a Runner from config. The returned close func releases
// the cache.
func newRunner(cfg *config.Config) (*runner.Runner, func(), error) {
	r := &runner.Runner{Store: state.NewStore(cfg.StateDir)}
	if flagVerbose {
		r.Logger = log.New(os.Stderr, "pipesched: ", 0)
	}

	closeFn := func() {}
	if cfg.Cache.Enabled && !flagNoCache {
		c, err := cache.Open(cfg.Cache.Path, cfg.Cache.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache: %w", err)
		}
		r.Cache = c
		closeFn = func() { c.Close() }
	}
	return r, closeFn, nil
}

func calcCmd() *cobra.Command {
	var (
		flagFile         string
		flagSizes        string
		flagCPUs         int
		flagMemory       int
		flagTasks        []string
		flagGantt        bool
		flagGanttWidth   int
		flagMakespanOnly bool
		flagTrace        bool
	)

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Compute the makespan of a pipeline",
		Example: `  pipesched calc -f pipeline.yaml --gantt
  pipesched calc --sizes 10,5 --cpus 1 --memory 100 --task align:0:2:1:1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}

			def, source, err := definitionFromFlags(cfg, flagFile, flagSizes, flagCPUs, flagMemory, flagTasks)
			if err != nil {
				return err
			}

			r, closeCache, err := newRunner(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			var out *runner.Outcome
			if flagMakespanOnly {
				out, err = r.Makespan(def, source)
			} else {
				var opts []sim.Option
				if flagTrace {
					opts = append(opts, sim.WithTrace())
				}
				out, err = r.Schedule(def, source, opts...)
			}
			if err != nil {
				if flagJSON {
					jerr := outputJSON(map[string]interface{}{
						"run_id":   out.Record.ID,
						"makespan": -1,
						"kind":     api.ErrorKind(err),
						"error":    err.Error(),
					})
					return errors.Join(err, jerr)
				}
				return err
			}

			if out.Result == nil {
				// served from cache
				if flagJSON {
					return outputJSON(map[string]interface{}{
						"run_id":          out.Record.ID,
						"makespan":        out.Record.Makespan,
						"critical_sample": out.Record.CriticalSample,
						"cached":          true,
					})
				}
				fmt.Printf("📐 %s %s %s\n", ui.BoldCyan("Makespan:"), ui.BoldGreen(out.Record.Makespan), ui.Dim("(cached)"))
				return nil
			}

			rpt := reporter.New(out.Result, out.Record.ID)
			if flagJSON {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			if flagMakespanOnly {
				fmt.Printf("📐 %s %s\n", ui.BoldCyan("Makespan:"), ui.BoldGreen(out.Result.Makespan))
				return nil
			}

			ui.PrintBanner(os.Stdout)
			rpt.PrintSummary(os.Stdout)
			if flagGantt {
				rpt.PrintGantt(os.Stdout, flagGanttWidth)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "Pipeline definition (YAML or JSON)")
	cmd.Flags().StringVar(&flagSizes, "sizes", "", "Comma-separated sample sizes (instead of --file)")
	cmd.Flags().IntVar(&flagCPUs, "cpus", 0, "Machine CPU count (default from config)")
	cmd.Flags().IntVar(&flagMemory, "memory", 0, "Machine memory (default from config)")
	cmd.Flags().StringArrayVar(&flagTasks, "task", nil, "Task as name:step:time_factor:space_factor:cpus[:duration] (repeatable)")
	cmd.Flags().BoolVar(&flagGantt, "gantt", false, "Print a text timeline")
	cmd.Flags().IntVar(&flagGanttWidth, "gantt-width", 60, "Timeline width in columns")
	cmd.Flags().BoolVar(&flagMakespanOnly, "makespan-only", false, "Print only the makespan (may be served from cache)")
	cmd.Flags().BoolVar(&flagTrace, "trace", false, "Include per-event resource snapshots in JSON output")

	return cmd
}

// definitionFromFlags loads --file, or assembles a definition from the
// inline flags. Machine flags override the file and config defaults.
func definitionFromFlags(cfg *config.Config, file, sizes string, cpus, memory int, tasks []string) (*input.Definition, string, error) {
	var def *input.Definition
	source := file

	switch {
	case file != "" && (sizes != "" || len(tasks) > 0):
		return nil, "", errors.New("--file cannot be combined with --sizes or --task")
	case file != "":
		var err error
		def, err = input.Load(file)
		if err != nil {
			return nil, "", err
		}
	case len(tasks) > 0:
		parsed, err := input.ParseSizes(sizes)
		if err != nil {
			return nil, "", err
		}
		def = &input.Definition{
			Machine: sim.Machine{MaxCPUs: cfg.Machine.CPUs, MaxMemory: cfg.Machine.Memory},
			Samples: parsed,
		}
		for _, t := range tasks {
			spec, err := input.ParseTaskSpec(t)
			if err != nil {
				return nil, "", err
			}
			def.Tasks = append(def.Tasks, spec)
		}
		source = "flags"
	default:
		return nil, "", errors.New("either --file or at least one --task is required")
	}

	if cpus > 0 {
		def.Machine.MaxCPUs = cpus
	}
	if memory > 0 {
		def.Machine.MaxMemory = memory
	}
	return def, source, nil
}

func validateCmd() *cobra.Command {
	var flagFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline definition without recording a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagFile == "" {
				return errors.New("--file is required")
			}
			def, err := input.Load(flagFile)
			if err != nil {
				return err
			}

			_, err = def.Simulate(nil)
			if flagJSON {
				o := map[string]interface{}{"valid": err == nil, "fingerprint": def.Fingerprint()}
				if err != nil {
					o["kind"] = api.ErrorKind(err)
					o["error"] = err.Error()
				}
				return errors.Join(err, outputJSON(o))
			}
			if err != nil {
				fmt.Printf("%s %s\n", ui.Red("✗"), err)
				return err
			}
			fmt.Printf("%s %s: %d samples, %d stages\n", ui.Green("✓"), flagFile, len(def.Samples), len(def.Tasks))
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "Pipeline definition (YAML or JSON)")

	return cmd
}

func sweepCmd() *cobra.Command {
	var (
		flagFile     string
		flagCPUs     string
		flagMemory   string
		flagParallel int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Simulate a pipeline across a grid of machine sizes",
		Example: `  pipesched sweep -f pipeline.yaml --cpus 1-16 --memory 64,128,256
  pipesched sweep -f pipeline.yaml --cpus 2-32:2 --parallel 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagFile == "" {
				return errors.New("--file is required")
			}
			def, err := input.Load(flagFile)
			if err != nil {
				return err
			}

			cfg := sweep.Config{MaxParallel: flagParallel}
			if cfg.CPUs, err = sweep.ParseRange(flagCPUs); err != nil {
				return fmt.Errorf("--cpus: %w", err)
			}
			if cfg.Memory, err = sweep.ParseRange(flagMemory); err != nil {
				return fmt.Errorf("--memory: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sw := sweep.New(def, nil, cfg)
			if !flagJSON {
				fmt.Fprintf(os.Stderr, "🔍 %s (%d machines, max %d parallel)\n",
					ui.BoldCyan("Sweeping"), len(sw.Grid()), sw.Config.MaxParallel)
			}
			points, err := sw.Run(ctx)
			if err != nil {
				return err
			}
			best, ok := sweep.Best(points)

			if flagJSON {
				o := map[string]interface{}{"points": points}
				if ok {
					o["best"] = best
				}
				return outputJSON(o)
			}

			fmt.Printf("%6s %8s %10s\n", "CPUS", "MEMORY", "MAKESPAN")
			for _, p := range points {
				makespan := fmt.Sprintf("%10d", p.Makespan)
				switch {
				case p.Status != sweep.StatusCompleted:
					makespan = ui.Red(fmt.Sprintf("%10s", "-1")) + "  " + ui.Dim(p.Error)
				case ok && p.Machine == best.Machine:
					makespan = ui.BoldGreen(makespan) + " ⭐"
				}
				fmt.Printf("%6d %8d %s\n", p.Machine.MaxCPUs, p.Machine.MaxMemory, makespan)
			}
			if !ok {
				return errors.New("no machine in the grid can run this pipeline")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "Pipeline definition (YAML or JSON)")
	cmd.Flags().StringVar(&flagCPUs, "cpus", "", "CPU counts: 4, 1,2,8, 1-16 or 2-32:2 (default: the file's machine)")
	cmd.Flags().StringVar(&flagMemory, "memory", "", "Memory sizes, same syntax as --cpus (default: the file's machine)")
	cmd.Flags().IntVarP(&flagParallel, "parallel", "p", 4, "Maximum concurrent simulations")

	return cmd
}

func serveCmd() *cobra.Command {
	var flagPort string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve makespan calculations over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if flagPort != "" {
				cfg.Server.Port = flagPort
			}

			r, closeCache, err := newRunner(cfg)
			if err != nil {
				return err
			}
			defer closeCache()

			srv := &http.Server{
				Addr:         ":" + cfg.Server.Port,
				Handler:      api.NewRouter(api.NewHandler(r, r.Store)),
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			ui.PrintBanner(os.Stderr)
			go func() {
				log.Printf("Listening on %s", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
				log.Printf("Received shutdown signal")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			log.Println("Server shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&flagPort, "port", "", "Listen port (default from config)")

	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the most recent run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			rec, err := state.NewStore(cfg.StateDir).Last()
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(rec)
			}
			printRecord(os.Stdout, rec)
			return nil
		},
	}
	return cmd
}

func historyCmd() *cobra.Command {
	var flagLimit int
	var flagClean bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			store := state.NewStore(cfg.StateDir)

			if flagClean {
				if err := store.Clean(); err != nil {
					return fmt.Errorf("clean history: %w", err)
				}
				fmt.Printf("🧹 Cleared run history in %s\n", cfg.StateDir)
				return nil
			}

			runs, err := store.List(flagLimit)
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No recorded runs.")
				return nil
			}
			for _, rec := range runs {
				printRecord(os.Stdout, rec)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum runs to show (0 for all)")
	cmd.Flags().BoolVar(&flagClean, "clean", false, "Delete all recorded runs")

	return cmd
}

// --- Output helpers ---

func printRecord(w io.Writer, rec *state.RunRecord) {
	icon := ui.StatusIcon("finished")
	makespan := ui.BoldGreen(rec.Makespan)
	if rec.Status == state.StatusFailed {
		icon = ui.StatusIcon("failed")
		makespan = ui.Red("-1")
	}
	cached := ""
	if rec.CacheHit {
		cached = " " + ui.Dim("(cached)")
	}
	fmt.Fprintf(w, "%s %s  %s  makespan %s%s  %s\n",
		icon, ui.BoldMagenta(shortID(rec.ID)), rec.StartedAt.Format("2006-01-02 15:04:05"),
		makespan, cached, ui.Dim(rec.Input))
	if rec.Error != "" {
		fmt.Fprintf(w, "    %s\n", ui.Red(rec.Error))
	}
}

// shortID abbreviates a run ID for listings. Records are hand-editable, so
// the ID may be short or empty.
func shortID(id string) string {
	switch {
	case id == "":
		return "?"
	case len(id) > 8:
		return id[:8]
	default:
		return id
	}
}

func outputJSON(v interface{}) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
