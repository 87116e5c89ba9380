package pipe

import (
	"context"
	"reflect"

	"github.com/tailored-agentic-units/pipeline/config"
)

// SelectorCase pairs a readiness source with its handler. Wait is called
// once per loop iteration to obtain the case's current wait channel; a
// receive from that channel consumes one readiness event. Channel-backed
// sources fit directly:
//
//	pipe.SelectorCase{
//	    Wait: func() <-chan struct{} { return ticker },
//	    Act:  func(ctx context.Context) error { return poll(ctx) },
//	}
type SelectorCase struct {
	Wait func() <-chan struct{}
	Act  func(ctx context.Context) error
}

// RunSelector waits on several asynchronous events and dispatches to exactly
// one ready handler per iteration, looping while shouldContinue returns
// true.
//
// Each iteration collects every case's wait channel and picks a ready case,
// preferring the earliest in the current rotation when several are ready;
// when none is ready it blocks on all channels plus ctx. After the handler
// returns, the served case moves to the end of the rotation.
//
// The rotation is the fairness policy: without it, a continuously ready
// case would starve the others, since "first to complete" consistently
// favors the lowest-latency source. With k continuously ready cases, any
// window of k served events serves each case exactly once, bounding the
// worst-case wait for any case to k-1 turns.
//
// A handler error aborts the loop and is returned; ctx cancellation returns
// ctx.Err().
func RunSelector(ctx context.Context, shouldContinue func() bool, cases ...SelectorCase) error {
	if len(cases) == 0 {
		return &config.Error{Field: "cases", Value: 0, Reason: "at least one selector case required"}
	}
	if shouldContinue == nil {
		return &config.Error{Field: "shouldContinue", Value: nil, Reason: "required"}
	}
	for i, c := range cases {
		if c.Wait == nil || c.Act == nil {
			return &config.Error{Field: "cases", Value: i, Reason: "wait and act are both required"}
		}
	}

	order := make([]int, len(cases))
	for i := range order {
		order[i] = i
	}

	for shouldContinue() {
		chans := make([]<-chan struct{}, len(order))
		for i, idx := range order {
			chans[i] = cases[idx].Wait()
		}

		pos := readyPosition(ctx, chans)
		if pos < 0 {
			return ctx.Err()
		}

		if err := cases[order[pos]].Act(ctx); err != nil {
			return err
		}

		// Rotate the served case to the tail.
		served := order[pos]
		order = append(order[:pos], order[pos+1:]...)
		order = append(order, served)
	}

	return nil
}

// readyPosition returns the index into chans of the case to serve, or -1 on
// ctx cancellation. Ready cases are preferred in list order; when none is
// ready it blocks on all channels and the context.
func readyPosition(ctx context.Context, chans []<-chan struct{}) int {
	for i, ch := range chans {
		select {
		case <-ch:
			return i
		default:
		}
	}

	selects := make([]reflect.SelectCase, 0, len(chans)+1)
	for _, ch := range chans {
		selects = append(selects, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(ch),
		})
	}
	selects = append(selects, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, _, _ := reflect.Select(selects)
	if chosen == len(chans) {
		return -1
	}
	return chosen
}
