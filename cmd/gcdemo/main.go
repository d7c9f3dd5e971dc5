// Command gcdemo drives the collector end to end against a synthetic
// mutator: it allocates fixed-size objects at a steady rate, keeps a
// fraction of them as GC roots, lets the rest become garbage, and
// prints the collector's stats and metrics as it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/orizon-lang/zgc/gc"
	"github.com/orizon-lang/zgc/internal/gcconfig"
)

func main() {
	var (
		heapSize      = flag.Int64("heap-size", 8<<20, "max heap size in bytes")
		regionSize    = flag.Int64("region-size", 512<<10, "region size in bytes")
		concurrency   = flag.Int("concurrency", 4, "GC worker concurrency level")
		generational  = flag.Bool("generational", true, "enable the generational young/old layer")
		objSize       = flag.Int("object-size", 4096, "size in bytes of each allocated object")
		duration      = flag.Duration("duration", 5*time.Second, "how long to run the mutator loop")
		allocInterval = flag.Duration("alloc-interval", time.Millisecond, "time between allocations")
		rootKeepRatio = flag.Float64("root-keep-ratio", 0.3, "fraction of allocations kept as GC roots")
		metricsFormat = flag.String("metrics-format", "human", "metrics export format: human or prometheus")
		configFile    = flag.String("config", "", "optional JSON config file (overrides the flag defaults above)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Drives the region-based tracing collector against a synthetic mutator.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := gcconfig.DefaultConfig()
	cfg.MaxHeapSize = uintptr(*heapSize)
	cfg.RegionSize = uintptr(*regionSize)
	cfg.ConcurrencyLevel = *concurrency
	cfg.UseGenerational = *generational

	if *configFile != "" {
		loaded, err := gcconfig.LoadFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gcdemo: loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		watchConfigFile(*configFile)
	}

	rt := newDemoRuntime()
	state, err := gc.Init(rt, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcdemo: init: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := state.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "gcdemo: shutdown: %v\n", err)
		}
	}()

	runMutator(state, rt, *duration, *allocInterval, *objSize, *rootKeepRatio)

	if _, err := state.ForceGC(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "gcdemo: final force_gc: %v\n", err)
	}

	stats := state.GetStats()
	fmt.Printf("\nfinal stats: used=%d live=%d reserved=%d regions=%d gc_count=%d pinned=%d\n",
		stats.Heap.UsedBytes, stats.Heap.LiveBytes, stats.Heap.ReservedBytes,
		stats.Heap.TotalRegions, stats.GCCount, stats.Pinned)

	out, err := state.ExportMetrics(*metricsFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcdemo: export metrics: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func runMutator(state *gc.State, rt *demoRuntime, duration, allocInterval time.Duration, objSize int, rootKeepRatio float64) {
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(allocInterval)
	defer ticker.Stop()

	report := time.NewTicker(500 * time.Millisecond)
	defer report.Stop()

	var threadID uint64 = 1
	for time.Now().Before(deadline) {
		select {
		case <-ticker.C:
			ref, err := state.Allocate(threadID, uintptr(objSize), 1)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gcdemo: allocate: %v\n", err)
				continue
			}
			if rand.Float64() < rootKeepRatio {
				rt.addRoot(ref)
			}
			if rt.rootCount() > 200 {
				rt.dropOldestRoots(50)
			}
		case <-report.C:
			stats := state.GetStats()
			for _, a := range state.Metrics.CheckAlerts() {
				fmt.Printf("alert: %s value=%.3f limit=%.3f: %s\n", a.Name, a.Value, a.Limit, a.Message)
			}
			fmt.Printf("used=%d reserved=%d roots=%d gc_count=%d\n",
				stats.Heap.UsedBytes, stats.Heap.ReservedBytes, rt.rootCount(), stats.GCCount)
		}
	}
}

func watchConfigFile(path string) {
	w, err := gcconfig.Watch(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gcdemo: watching %s: %v\n", path, err)
		return
	}
	go func() {
		for {
			select {
			case cfg, ok := <-w.Updates():
				if !ok {
					return
				}
				fmt.Printf("config reloaded: trigger_heap_usage=%.2f max_pause_ms=%d target_throughput=%.2f\n",
					cfg.TriggerHeapUsage, cfg.MaxPauseMS, cfg.TargetThroughput)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "gcdemo: config reload error: %v\n", err)
			}
		}
	}()
}
