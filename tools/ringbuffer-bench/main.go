// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/antimetal/ringbuffer/pkg/ringbuffer"
	"github.com/antimetal/ringbuffer/pkg/ringbuffer/logsink"
	"github.com/antimetal/ringbuffer/pkg/ringbuffer/snapshot"
)

var (
	verbose     = flag.Bool("verbose", false, "Enable verbose output")
	capacities  = flag.String("capacities", "16,256,4096", "Comma-separated list of buffer capacities")
	ops         = flag.Int("ops", 100000, "Operations per scenario run")
	iterations  = flag.Int("iterations", 10, "Number of benchmark iterations")
	parallel    = flag.Int("parallel", 1, "Number of capacities benchmarked concurrently")
	filter      = flag.String("filter", "", "Comma-separated list of scenarios to run (push_back,push_front,emplace_back,push_pop,iterate,snapshot)")
	historySize = flag.Int("history", 64, "Number of log entries kept for failure reports")
	timeout     = flag.Duration("timeout", 5*time.Minute, "Timeout for the whole run")
)

type Scenario struct {
	Name string
	Run  func(ctx context.Context, capacity, ops int) error
}

type ScenarioResult struct {
	Name       string
	Capacity   int
	Success    bool
	Skipped    bool
	Error      error
	Benchmarks []time.Duration
}

func main() {
	flag.Parse()

	fmt.Printf("🔧 Ring Buffer Benchmark Tool\n")
	fmt.Printf("=============================\n")
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go version: %s\n\n", runtime.Version())

	var delegate logr.Logger
	if *verbose {
		zapLog, _ := zap.NewDevelopment()
		delegate = zapr.NewLogger(zapLog)
	} else {
		delegate = logr.Discard()
	}
	history, err := logsink.NewRecorder(logsink.Config{
		Capacity:  *historySize,
		Verbosity: 1,
		Delegate:  delegate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log recorder: %v\n", err)
		os.Exit(1)
	}
	logger := history.Logger().WithName("ringbuffer-bench")

	caps, err := parseCapacities(*capacities)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -capacities: %v\n", err)
		os.Exit(1)
	}
	if *iterations <= 0 || *ops <= 0 {
		fmt.Fprintf(os.Stderr, "-iterations and -ops must be positive\n")
		os.Exit(1)
	}

	scenarios := allScenarios()
	if *filter != "" {
		scenarios = filterScenarios(scenarios, *filter)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results, err := runAll(ctx, logger, scenarios, caps)
	printResults(results)
	if err != nil {
		fmt.Printf("⛔ Stopped early: %v\n", err)
	}
	if !printSummary(results) {
		fmt.Printf("\n🧾 Recent log history\n")
		fmt.Printf("====================\n")
		replay, _ := zap.NewDevelopment()
		history.Replay(zapr.NewLogger(replay))
		os.Exit(1)
	}
}

func parseCapacities(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("capacity must be greater than 0, got %d", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no capacities given")
	}
	return out, nil
}

func filterScenarios(all []Scenario, filter string) []Scenario {
	names := make(map[string]bool)
	for _, n := range strings.Split(filter, ",") {
		names[strings.TrimSpace(n)] = true
	}

	var filtered []Scenario
	for _, s := range all {
		if names[s.Name] {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// runAll benchmarks every scenario for every capacity. Capacities run
// concurrently up to -parallel; each run owns its buffers. The first failing
// capacity cancels the others, whose remaining scenarios are skipped.
func runAll(ctx context.Context, logger logr.Logger, scenarios []Scenario, caps []int) ([]ScenarioResult, error) {
	results := make([]ScenarioResult, len(scenarios)*len(caps))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, *parallel))
	for ci, capacity := range caps {
		g.Go(func() error {
			log := logger.WithValues("capacity", capacity)
			var failed error
			for si, scenario := range scenarios {
				result := runScenario(ctx, log, scenario, capacity)
				results[ci*len(scenarios)+si] = result
				if failed == nil && !result.Success && !result.Skipped {
					failed = fmt.Errorf("%s at capacity %d: %w", scenario.Name, capacity, result.Error)
				}
			}
			return failed
		})
	}
	return results, g.Wait()
}

func runScenario(ctx context.Context, logger logr.Logger, scenario Scenario, capacity int) ScenarioResult {
	result := ScenarioResult{
		Name:     scenario.Name,
		Capacity: capacity,
		Success:  true,
	}
	logger = logger.WithValues("scenario", scenario.Name)

	if err := ctx.Err(); err != nil {
		result.Success = false
		result.Skipped = true
		result.Error = err
		return result
	}

	for i := 0; i < *iterations; i++ {
		if err := ctx.Err(); err != nil {
			result.Success = false
			result.Error = err
			break
		}
		start := time.Now()
		err := scenario.Run(ctx, capacity, *ops)
		duration := time.Since(start)
		result.Benchmarks = append(result.Benchmarks, duration)

		if err != nil {
			logger.Error(err, "scenario failed", "iteration", i+1)
			result.Success = false
			result.Error = err
			break
		}
		logger.V(1).Info("iteration complete", "iteration", i+1, "duration", duration)
	}
	return result
}

func printResults(results []ScenarioResult) {
	fmt.Printf("📊 Scenario Results (%d iterations, %d ops)\n", *iterations, *ops)
	fmt.Printf("==========================================\n")

	for _, result := range results {
		status := "✅ PASS"
		switch {
		case result.Skipped:
			status = "⏭️  SKIP"
		case !result.Success:
			status = "❌ FAIL"
		}
		fmt.Printf("%s %s (capacity %d)\n", status, result.Name, result.Capacity)

		if result.Error != nil {
			fmt.Printf("   Error: %v\n", result.Error)
		}
		if len(result.Benchmarks) == 0 {
			fmt.Println()
			continue
		}

		durations := append([]time.Duration(nil), result.Benchmarks...)
		sort.Slice(durations, func(i, j int) bool {
			return durations[i] < durations[j]
		})

		var total time.Duration
		for _, d := range durations {
			total += d
		}

		avg := total / time.Duration(len(durations))
		median := durations[len(durations)/2]
		perOp := avg / time.Duration(*ops)

		fmt.Printf("   Average: %v (%v/op)\n", avg, perOp)
		fmt.Printf("   Median:  %v\n", median)
		fmt.Printf("   Min:     %v\n", durations[0])
		fmt.Printf("   Max:     %v\n", durations[len(durations)-1])
		if *verbose {
			for i, d := range result.Benchmarks {
				fmt.Printf("   Iteration %d: %v\n", i+1, d)
			}
		}
		fmt.Println()
	}
}

func printSummary(results []ScenarioResult) bool {
	fmt.Printf("\n📋 Summary\n")
	fmt.Printf("==========\n")

	passed, skipped := 0, 0
	totalDuration := time.Duration(0)
	for _, result := range results {
		if result.Success {
			passed++
		}
		if result.Skipped {
			skipped++
		}
		for _, d := range result.Benchmarks {
			totalDuration += d
		}
	}

	fmt.Printf("Scenarios run: %d\n", len(results))
	fmt.Printf("Passed: %d\n", passed)
	fmt.Printf("Failed: %d\n", len(results)-passed-skipped)
	fmt.Printf("Skipped: %d\n", skipped)
	fmt.Printf("Total execution time: %v\n", totalDuration)

	if passed == len(results) {
		fmt.Printf("🎉 All scenarios passed!\n")
		return true
	}
	fmt.Printf("⚠️  Some scenarios failed. Check errors above.\n")
	return false
}

func allScenarios() []Scenario {
	return []Scenario{
		{Name: "push_back", Run: pushBack},
		{Name: "push_front", Run: pushFront},
		{Name: "emplace_back", Run: emplaceBack},
		{Name: "push_pop", Run: pushPop},
		{Name: "iterate", Run: iterate},
		{Name: "snapshot", Run: snapshotRoundTrip},
	}
}

// Each scenario checks what it built so a broken buffer fails loudly instead
// of producing fast numbers.

func pushBack(_ context.Context, capacity, ops int) error {
	rb, err := ringbuffer.New[int](capacity)
	if err != nil {
		return err
	}
	for i := 0; i < ops; i++ {
		rb.PushBack(i)
	}
	return expectNewest(rb.ToSlice(), capacity, ops, false)
}

func pushFront(_ context.Context, capacity, ops int) error {
	rb, err := ringbuffer.New[int](capacity)
	if err != nil {
		return err
	}
	for i := 0; i < ops; i++ {
		rb.PushFront(i)
	}
	return expectNewest(rb.ToSlice(), capacity, ops, true)
}

type sample struct {
	seq    int
	values [4]float64
}

func emplaceBack(_ context.Context, capacity, ops int) error {
	rb, err := ringbuffer.New[sample](capacity)
	if err != nil {
		return err
	}
	for i := 0; i < ops; i++ {
		rb.EmplaceBack(func(s *sample) {
			s.seq = i
			s.values[0] = float64(i)
		})
	}
	seqs := make([]int, 0, rb.Len())
	for s := range rb.All() {
		seqs = append(seqs, s.seq)
	}
	return expectNewest(seqs, capacity, ops, false)
}

func pushPop(_ context.Context, capacity, ops int) error {
	rb, err := ringbuffer.New[int](capacity)
	if err != nil {
		return err
	}
	sum := 0
	for i := 0; i < ops; i++ {
		rb.PushBack(i)
		if rb.Full() {
			sum += rb.PopFront()
		}
	}
	for !rb.Empty() {
		sum += rb.PopBack()
	}
	if want := ops * (ops - 1) / 2; sum != want {
		return fmt.Errorf("popped sum %d, want %d", sum, want)
	}
	return nil
}

func iterate(_ context.Context, capacity, ops int) error {
	rb, err := ringbuffer.NewFilled(capacity, capacity, 1)
	if err != nil {
		return err
	}
	visited := 0
	for visited < ops {
		n := 0
		for it, end := rb.Begin(), rb.End(); !it.Equal(end); it.Next() {
			n += *it.Value()
		}
		if n != capacity {
			return fmt.Errorf("full buffer walk visited %d elements, want %d", n, capacity)
		}
		visited += n
	}
	return nil
}

type intCodec struct{}

func (intCodec) Marshal(v int) ([]byte, error) { return []byte(strconv.Itoa(v)), nil }

func (intCodec) Unmarshal(data []byte) (int, error) { return strconv.Atoi(string(data)) }

// snapshotRoundTrip saves a full buffer to an in-memory store and restores it.
func snapshotRoundTrip(ctx context.Context, capacity, ops int) error {
	store, err := snapshot.Open[int](intCodec{}, snapshot.Options{})
	if err != nil {
		return err
	}
	defer store.Close()

	rb, err := ringbuffer.New[int](capacity)
	if err != nil {
		return err
	}
	for i := 0; i < min(ops, 4*capacity); i++ {
		rb.PushBack(i)
	}
	if err := store.Save(ctx, "bench", rb); err != nil {
		return err
	}
	restored, err := store.Load("bench", capacity)
	if err != nil {
		return err
	}
	return expectNewest(restored.ToSlice(), capacity, min(ops, 4*capacity), false)
}

// expectNewest checks that got holds the newest min(capacity, ops) of the
// values 0..ops-1, oldest first, or newest first when reversed.
func expectNewest(got []int, capacity, ops int, reversed bool) error {
	n := min(capacity, ops)
	if len(got) != n {
		return fmt.Errorf("retained %d elements, want %d", len(got), n)
	}
	for i, v := range got {
		want := ops - n + i
		if reversed {
			want = ops - 1 - i
		}
		if v != want {
			return fmt.Errorf("element %d is %d, want %d", i, v, want)
		}
	}
	return nil
}
