package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/23skdu/longbow-lattice/internal/compiler"
	"github.com/23skdu/longbow-lattice/internal/config"
	"github.com/23skdu/longbow-lattice/internal/dumper/dot"
	"github.com/23skdu/longbow-lattice/internal/exec"
	"github.com/23skdu/longbow-lattice/internal/ir"
	"github.com/23skdu/longbow-lattice/internal/loader"
	"github.com/23skdu/longbow-lattice/internal/logger"
	"github.com/23skdu/longbow-lattice/internal/memory"
	"github.com/23skdu/longbow-lattice/internal/monitoring"
	"github.com/23skdu/longbow-lattice/internal/partition"
)

var (
	packagePath   = flag.String("package", "", "Path to the package description (JSON)")
	partitionPath = flag.String("partition", "", "Optional partition table (INI)")
	dotDir        = flag.String("dot", "", "Directory to write one Graphviz file per graph")
	runs          = flag.Int("run", 0, "Execute every graph this many times with zeroed inputs")
	training      = flag.Bool("training", false, "Plan training memory instead of inference")
	metricsAddr   = flag.String("metrics", "", "Serve /metrics and /status on this address and wait for a signal")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if err := cfg.FromEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if *packagePath == "" {
		fmt.Println("Error: --package flag is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Log.Error("lattice-plan failed", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	pkg, err := loader.LoadFile(*packagePath)
	if err != nil {
		return err
	}

	opts := compiler.Options{
		Memory: memory.Options{
			Planner:       cfg.Planner,
			Alignment:     cfg.Alignment,
			OptimizerVars: cfg.OptimizerVars,
		},
		Training: *training,
	}
	if *partitionPath != "" {
		if opts.Partition, err = partition.Load(*partitionPath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	compiled, err := compiler.CompilePackage(ctx, pkg, opts)
	if err != nil {
		return err
	}

	indices := make([]ir.GraphIndex, 0, len(compiled))
	for idx := range compiled {
		indices = append(indices, idx)
	}
	slices.SortFunc(indices, func(a, b ir.GraphIndex) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})

	monitor := monitoring.NewHealthMonitor()
	var recorder *exec.MinMaxRecorder
	if cfg.MinMaxDumpPath != "" {
		recorder = exec.NewMinMaxRecorder(exec.NewRawMinMaxDumper(cfg.MinMaxDumpPath))
	}

	fmt.Printf("%-6s %-8s %-10s %10s %10s %10s %10s %10s\n", "graph", "coords", "operations", "nonconst", "trainable", "backprop", "gradient", "total")
	for _, idx := range indices {
		c := compiled[idx]
		fp := c.Tensors.Footprint()
		coords := "-"
		if model, subgraph, ok := pkg.Coordinates(idx); ok {
			coords = model.String() + ":" + subgraph.String()
		}
		fmt.Printf("%-6s %-8s %-10d %10d %10d %10d %10d %10d\n", idx, coords, len(c.Lowered.Order),
			fp.NonConst, fp.Trainable, fp.BackProp, fp.Gradient, fp.Total())
		monitor.RegisterGraph(monitoring.GraphInfo{Name: coords, Operations: len(c.Lowered.Order), PlannedBytes: fp.Total()})

		if *dotDir != "" {
			if err := writeDot(*dotDir, c, "graph"+idx.String()); err != nil {
				return err
			}
		}

		if *runs > 0 {
			if err := execute(c, *runs, cfg.Profile, recorder, monitor); err != nil {
				return err
			}
		}
	}

	if cfg.MetricsAddr == "" {
		return nil
	}
	go func() {
		if err := monitor.Start(cfg.MetricsAddr); err != nil {
			logger.Log.Error("health monitor stopped", err)
			stop()
		}
	}()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return monitor.Stop(shutdownCtx)
}

func writeDot(dir string, c *compiler.Compiled, name string) (err error) {
	path := filepath.Join(dir, name+".dot")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close dot file %s: %w", path, cerr)
		}
	}()
	if err := dot.Dump(f, name, c.Lowered.Graph, c.Lowered.Placement); err != nil {
		return err
	}
	logger.Log.Info("graph dumped", "path", path)
	return nil
}

func execute(c *compiler.Compiled, n int, profile bool, recorder *exec.MinMaxRecorder, monitor *monitoring.HealthMonitor) error {
	ex := c.Executor
	ex.AddObserver(monitor)
	if recorder != nil {
		ex.AddObserver(recorder)
	}
	var prof *exec.ProfileObserver
	if profile {
		prof = exec.NewProfileObserver()
		ex.AddObserver(prof)
	}

	for i, in := range ex.Graph().Inputs() {
		t := ex.Tensors().Tensor(in)
		if err := ex.SetInput(i, make([]byte, t.TotalSize())); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		if err := ex.Execute(); err != nil {
			return err
		}
		if recorder != nil && recorder.Err() != nil {
			return recorder.Err()
		}
	}

	if prof != nil {
		for code, d := range prof.Totals() {
			logger.Log.Info("op profile", "graph", c.Index.String(), "op", string(code), "total", d.String())
		}
	}
	return nil
}
