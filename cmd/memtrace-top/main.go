// Command memtrace-top loads persisted snapshots and prints the top
// allocation sources, optionally diffed against an older snapshot.
package main

import (
	"flag"
	"fmt"
	"os"

	memtrace "github.com/orizon-lang/memtrace"
	"github.com/orizon-lang/memtrace/internal/snapshot"
)

func main() {
	var (
		group      = flag.String("group", "line", "grouping: line, filename, address, traceback")
		cumulative = flag.Bool("cumulative", false, "attribute sizes to every frame of each traceback")
		limit      = flag.Int("n", 25, "number of entries to print")
		version    = flag.Bool("version", false, "show version information")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] SNAPSHOT [OLD_SNAPSHOT]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Print the top allocation sources of a snapshot. With two\n")
		fmt.Fprintf(os.Stderr, "snapshots, print the ordered difference (largest changes first).\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("memtrace-top (snapshot format %s)\n", snapshot.FormatVersion)
		return
	}

	args := flag.Args()
	if len(args) < 1 || len(args) > 2 {
		flag.Usage()
		os.Exit(2)
	}

	grouped, err := loadGrouped(args[0], memtrace.GroupKind(*group), *cumulative)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}

	var old *memtrace.GroupedStats
	if len(args) == 2 {
		old, err = loadGrouped(args[1], memtrace.GroupKind(*group), *cumulative)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", args[1], err)
			os.Exit(1)
		}
	}

	diffs := grouped.CompareTo(old, true)
	if len(diffs) > *limit {
		diffs = diffs[:*limit]
	}

	for i, d := range diffs {
		if old != nil {
			fmt.Printf("#%-3d %-40s size=%d (%+d)  count=%d (%+d)\n",
				i+1, d.Key, d.Size, d.SizeDiff, d.Count, d.CountDiff)
		} else {
			fmt.Printf("#%-3d %-40s size=%d  count=%d\n", i+1, d.Key, d.Size, d.Count)
		}
	}
}

func loadGrouped(path string, group memtrace.GroupKind, cumulative bool) (*memtrace.GroupedStats, error) {
	snap, err := memtrace.LoadSnapshot(path, true)
	if err != nil {
		return nil, err
	}
	return snap.TopBy(group, cumulative)
}
