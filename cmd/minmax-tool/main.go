package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/longbow-lattice/internal/blobs"
	"github.com/23skdu/longbow-lattice/internal/calibration"
	"github.com/23skdu/longbow-lattice/internal/exec"
	"github.com/23skdu/longbow-lattice/internal/logger"
)

var (
	flightAddr = flag.String("flight", "", "Export the dump to a calibration service at host[:port]")
	name       = flag.String("name", "", "Name of the exported dump (default: file name)")
	uploadTo   = flag.String("upload", "", "Upload the dump to gs://bucket[/prefix] or a local directory")
	logLevel   = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <minmax.bin>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	logger.Setup(*logLevel, "console")

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	if err := run(path); err != nil {
		logger.Log.Error("minmax-tool failed", err, "path", path)
		os.Exit(1)
	}
}

func run(path string) error {
	file, err := exec.ReadMinMaxFile(path)
	if err != nil {
		return err
	}
	printSummary(file)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *flightAddr != "" {
		host, port, err := splitHostPort(*flightAddr)
		if err != nil {
			return err
		}
		exporter := calibration.NewFlightExporter(host, port)
		if err := exporter.Connect(ctx); err != nil {
			return err
		}
		defer exporter.Close()

		dumpName := *name
		if dumpName == "" {
			dumpName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		if err := exporter.Export(ctx, dumpName, file); err != nil {
			return err
		}
	}

	if *uploadTo != "" {
		store, err := blobs.Open(*uploadTo)
		if err != nil {
			return err
		}
		info, err := blobs.HashFile(path)
		if err != nil {
			return err
		}
		if err := store.Upload(ctx, path, info); err != nil {
			return err
		}
		fmt.Printf("uploaded %s as %s\n", path, info.Hash)
	}
	return nil
}

// splitHostPort accepts a bare host and falls back to the default port.
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, calibration.DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

func printSummary(file *exec.MinMaxFile) {
	fmt.Printf("version %d, %d runs\n", file.Version, len(file.Runs))
	ranges := calibration.Aggregate(file)
	printRanges("input", ranges.Inputs)
	printRanges("op", ranges.Ops)
}

func printRanges(kind string, m exec.MinMaxMap) {
	keys := make([]exec.MinMaxKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b exec.MinMaxKey) int {
		return cmp.Or(cmp.Compare(a.Model, b.Model), cmp.Compare(a.Subgraph, b.Subgraph), cmp.Compare(a.Index, b.Index))
	})
	for _, k := range keys {
		mm := m[k]
		fmt.Printf("%-5s %d:%d:%-4d min=%-12g max=%g\n", kind, k.Model, k.Subgraph, k.Index, mm.Min, mm.Max)
	}
}
