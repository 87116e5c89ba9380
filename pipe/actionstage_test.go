package pipe_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/pipeline/config"
	"github.com/tailored-agentic-units/pipeline/envelope"
	"github.com/tailored-agentic-units/pipeline/pipe"
)

func testActionConfig(name string, capacity, parallelism int) config.ActionConfig {
	return config.ActionConfig{
		Name:        name,
		Capacity:    capacity,
		Parallelism: parallelism,
		Observer:    "noop",
	}
}

func TestActionStage_Throughput(t *testing.T) {
	ctx := context.Background()

	var processed atomic.Int64
	action := pipe.ForEach(func(ctx context.Context, n int) error {
		processed.Add(1)
		return nil
	})

	stage, err := pipe.NewActionStage(ctx, testActionConfig("throughput", 4, 2), action, nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	for i := range 1000 {
		if err := stage.SendItem(ctx, i); err != nil {
			t.Fatalf("SendItem(%d) error = %v", i, err)
		}
	}

	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if got := processed.Load(); got != 1000 {
		t.Errorf("processed = %d, want 1000", got)
	}
	if got := stage.InputCount(); got != 1000 {
		t.Errorf("InputCount() = %d, want 1000", got)
	}
	if got := stage.OutputCount(); got != 1000 {
		t.Errorf("OutputCount() = %d, want 1000", got)
	}
	if got := stage.WorkingCount(); got != 0 {
		t.Errorf("WorkingCount() = %d, want 0", got)
	}
}

func TestActionStage_ActionThenDone(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	order := make(map[string][]string)

	action := func(ctx context.Context, env *envelope.Envelope[string]) error {
		mu.Lock()
		order[env.ID()] = append(order[env.ID()], "action")
		mu.Unlock()
		return nil
	}
	done := func(ctx context.Context, env *envelope.Envelope[string]) error {
		mu.Lock()
		order[env.ID()] = append(order[env.ID()], "done")
		mu.Unlock()
		return nil
	}

	stage, err := pipe.NewActionStage(ctx, testActionConfig("ordering", 4, 4), action, done)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	for range 50 {
		if err := stage.SendItem(ctx, "x"); err != nil {
			t.Fatalf("SendItem() error = %v", err)
		}
	}
	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(order) != 50 {
		t.Fatalf("tracked %d envelopes, want 50", len(order))
	}
	for id, steps := range order {
		if len(steps) != 2 || steps[0] != "action" || steps[1] != "done" {
			t.Errorf("envelope %s steps = %v, want [action done]", id, steps)
		}
	}
}

func TestActionStage_SendAfterComplete(t *testing.T) {
	ctx := context.Background()

	stage, err := pipe.NewActionStage(ctx, testActionConfig("closed", 1, 1), pipe.Noop[int](), nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	err = stage.SendItem(ctx, 1)
	if !errors.Is(err, pipe.ErrStageClosed) {
		t.Errorf("SendItem() after Complete error = %v, want ErrStageClosed", err)
	}
	if got := stage.InputCount(); got != 0 {
		t.Errorf("InputCount() = %d, want 0 after rejected send", got)
	}
}

func TestActionStage_CompleteIdempotent(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int64
	action := pipe.ForEach(func(ctx context.Context, n int) error {
		calls.Add(1)
		return nil
	})

	stage, err := pipe.NewActionStage(ctx, testActionConfig("idempotent", 4, 2), action, nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	for i := range 10 {
		if err := stage.SendItem(ctx, i); err != nil {
			t.Fatalf("SendItem() error = %v", err)
		}
	}

	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("second Complete() error = %v", err)
	}

	if got := calls.Load(); got != 10 {
		t.Errorf("action calls = %d, want 10 (no double drain)", got)
	}
}

func TestActionStage_ZeroItems(t *testing.T) {
	ctx := context.Background()

	var doneCalls atomic.Int64
	done := func(ctx context.Context, env *envelope.Envelope[int]) error {
		doneCalls.Add(1)
		return nil
	}

	stage, err := pipe.NewActionStage(ctx, testActionConfig("empty", 4, 2), pipe.Noop[int](), done)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	start := time.Now()
	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Complete() took %v, want prompt return", elapsed)
	}

	if got := doneCalls.Load(); got != 0 {
		t.Errorf("done calls = %d, want 0", got)
	}
	snapshot := stage.Metrics()
	if snapshot.InputCount != 0 || snapshot.OutputCount != 0 || snapshot.WorkingCount != 0 {
		t.Errorf("counters = %+v, want all zero", snapshot)
	}
}

func TestActionStage_BackPressure(t *testing.T) {
	ctx := context.Background()

	action := pipe.ForEach(func(ctx context.Context, n int) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	stage, err := pipe.NewActionStage(ctx, testActionConfig("pressure", 1, 1), action, nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	start := time.Now()
	for i := range 5 {
		if err := stage.SendItem(ctx, i); err != nil {
			t.Fatalf("SendItem(%d) error = %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	// With capacity 1 and one worker, the later sends must wait for earlier
	// actions to finish.
	if elapsed < 20*time.Millisecond {
		t.Errorf("5 sends took %v, want >= 20ms of blocking", elapsed)
	}
}

func TestActionStage_Rendezvous(t *testing.T) {
	ctx := context.Background()

	taken := make(chan int, 2)
	action := pipe.ForEach(func(ctx context.Context, n int) error {
		taken <- n
		return nil
	})

	stage, err := pipe.NewActionStage(ctx, testActionConfig("rendezvous", 1, 1), action, nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	if err := stage.SendItem(ctx, 1); err != nil {
		t.Fatalf("SendItem() error = %v", err)
	}

	select {
	case got := <-taken:
		if got != 1 {
			t.Errorf("worker took %d, want 1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("worker never took the item")
	}

	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestActionStage_UserFault(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("boom")
	action := pipe.ForEach(func(ctx context.Context, n int) error {
		if n == 3 {
			return boom
		}
		return nil
	})

	stage, err := pipe.NewActionStage(ctx, testActionConfig("fault", 8, 1), action, nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	for i := range 5 {
		if err := stage.SendItem(ctx, i); err != nil {
			t.Fatalf("SendItem(%d) error = %v", i, err)
		}
	}

	err = stage.Complete(ctx)
	if err == nil {
		t.Fatal("Complete() error = nil, want fault")
	}
	if !errors.Is(err, boom) {
		t.Errorf("Complete() error = %v, want wrapped boom", err)
	}

	var wErr *pipe.WorkerError[int]
	if !errors.As(err, &wErr) {
		t.Fatalf("Complete() error = %T, want *WorkerError", err)
	}
	if wErr.Envelope == nil || wErr.Envelope.Value() != 3 {
		t.Errorf("WorkerError envelope = %v, want value 3", wErr.Envelope)
	}
}

func TestActionStage_SiblingsSurviveFault(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("boom")
	var processed atomic.Int64
	action := pipe.ForEach(func(ctx context.Context, n int) error {
		if n == 0 {
			return boom
		}
		processed.Add(1)
		return nil
	})

	stage, err := pipe.NewActionStage(ctx, testActionConfig("siblings", 32, 2), action, nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	for i := range 20 {
		if err := stage.SendItem(ctx, i); err != nil {
			t.Fatalf("SendItem(%d) error = %v", i, err)
		}
	}

	if err := stage.Complete(ctx); !errors.Is(err, boom) {
		t.Fatalf("Complete() error = %v, want boom", err)
	}

	// The surviving worker keeps draining after its sibling faulted.
	if got := processed.Load(); got < 19 {
		t.Errorf("processed = %d, want >= 19", got)
	}
}

func TestActionStage_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	action := pipe.ForEach(func(ctx context.Context, n int) error {
		<-block
		return nil
	})

	var doneCalls atomic.Int64
	done := func(ctx context.Context, env *envelope.Envelope[int]) error {
		doneCalls.Add(1)
		return nil
	}

	stage, err := pipe.NewActionStage(ctx, testActionConfig("cancel", 2, 1), action, done)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	if err := stage.SendItem(context.Background(), 1); err != nil {
		t.Fatalf("SendItem() error = %v", err)
	}

	cancel()

	// Cancellation is observed at the send path.
	for range 100 {
		if err := stage.SendItem(context.Background(), 2); errors.Is(err, pipe.ErrStageCancelled) {
			break
		}
	}
	if err := stage.SendItem(context.Background(), 3); !errors.Is(err, pipe.ErrStageCancelled) {
		t.Errorf("SendItem() after cancel error = %v, want ErrStageCancelled", err)
	}

	close(block)

	// Complete still returns cleanly; the in-flight action ran to
	// completion, and its done hook was skipped.
	if err := stage.Complete(context.Background()); err != nil {
		t.Fatalf("Complete() after cancel error = %v", err)
	}
	if got := doneCalls.Load(); got != 0 {
		t.Errorf("done calls = %d, want 0 after cancellation", got)
	}
}

func TestActionStage_InvalidConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  config.ActionConfig
	}{
		{"zero capacity", config.ActionConfig{Capacity: 0, Parallelism: 1, Observer: "noop"}},
		{"zero parallelism", config.ActionConfig{Capacity: 1, Parallelism: 0, Observer: "noop"}},
		{"negative capacity", config.ActionConfig{Capacity: -1, Parallelism: 1, Observer: "noop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipe.NewActionStage(ctx, tt.cfg, pipe.Noop[int](), nil)
			var cfgErr *config.Error
			if !errors.As(err, &cfgErr) {
				t.Errorf("NewActionStage() error = %v, want *config.Error", err)
			}
		})
	}

	if _, err := pipe.NewActionStage[int](ctx, testActionConfig("nil-action", 1, 1), nil, nil); err == nil {
		t.Error("NewActionStage() with nil action should fail")
	}
}

func TestActionStage_SendItems(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var batches [][]string

	action := pipe.ForBatch(func(ctx context.Context, values []string) error {
		mu.Lock()
		batches = append(batches, values)
		mu.Unlock()
		return nil
	})

	stage, err := pipe.NewActionStage(ctx, testActionConfig("batches", 4, 1), action, nil)
	if err != nil {
		t.Fatalf("NewActionStage() error = %v", err)
	}

	if err := stage.SendItems(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("SendItems() error = %v", err)
	}
	if err := stage.SendItem(ctx, "c"); err != nil {
		t.Fatalf("SendItem() error = %v", err)
	}
	if err := stage.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if len(batches[0]) != 2 || batches[0][0] != "a" || batches[0][1] != "b" {
		t.Errorf("first batch = %v, want [a b]", batches[0])
	}
	if len(batches[1]) != 1 || batches[1][0] != "c" {
		t.Errorf("second batch = %v, want [c]", batches[1])
	}
}

func TestActionStage_Into(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var sink []int

	second, err := pipe.NewActionStage(ctx, testActionConfig("second", 4, 1), pipe.ForEach(func(ctx context.Context, n int) error {
		mu.Lock()
		sink = append(sink, n)
		mu.Unlock()
		return nil
	}), nil)
	if err != nil {
		t.Fatalf("NewActionStage(second) error = %v", err)
	}

	first, err := pipe.NewActionStage(ctx, testActionConfig("first", 4, 1), pipe.Noop[int](), pipe.Into[int](second))
	if err != nil {
		t.Fatalf("NewActionStage(first) error = %v", err)
	}

	for i := range 10 {
		if err := first.SendItem(ctx, i); err != nil {
			t.Fatalf("SendItem(%d) error = %v", i, err)
		}
	}
	if err := first.Complete(ctx); err != nil {
		t.Fatalf("Complete(first) error = %v", err)
	}
	if err := second.Complete(ctx); err != nil {
		t.Fatalf("Complete(second) error = %v", err)
	}

	if len(sink) != 10 {
		t.Errorf("sink length = %d, want 10", len(sink))
	}
}
