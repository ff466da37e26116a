package directread

import (
	"testing"
	"time"

	"github.com/FraMan97/kairos/internal/xferrors"
)

func TestEnqueueAndCmdResultMovesToReady(t *testing.T) {
	sched := NewScheduler()
	n := NewNode(1000, func() ([]string, time.Duration, error) {
		return []string{"https://example.invalid/f"}, time.Hour, nil
	}, sched, false)

	var delivered bool
	r := n.Enqueue(0, 100, "tag", func(ev Event) Result {
		if ev.Kind == EventData {
			delivered = true
		}
		return Result{Continue: true, Valid: true}
	})
	if r == nil {
		t.Fatalf("Enqueue returned nil")
	}
	n.CmdResult([]string{"https://example.invalid/f"}, nil, 0)
	ready := sched.DrainReady()
	if len(ready) != 1 || ready[0] != r {
		t.Fatalf("expected the enqueued read to be moved to ready, got %v", ready)
	}
	_ = delivered
}

func TestRetryPayWallUnschedules(t *testing.T) {
	sched := NewScheduler()
	n := NewNode(100, func() ([]string, time.Duration, error) { return nil, 0, xferrors.EPayWall }, sched, false)
	n.Enqueue(0, 10, "t", func(ev Event) Result { return Result{RetryDeltaDs: GiveUp} })
	n.Retry(xferrors.EPayWall, 0)
	if _, ok := sched.NextDeadline(); ok {
		t.Fatalf("EPAYWALL must leave the node unscheduled")
	}
}

func TestRetryTogglesAltPort(t *testing.T) {
	sched := NewScheduler()
	n := NewNode(100, func() ([]string, time.Duration, error) { return nil, 0, xferrors.EAgain }, sched, true)
	n.Enqueue(0, 10, "t", func(ev Event) Result { return Result{RetryDeltaDs: 5} })
	before := n.AltPort()
	n.Retry(xferrors.EAgain, time.Second)
	if n.AltPort() == before {
		t.Fatalf("auto-port retry must toggle usealtdownport")
	}
}

func TestDispatchTearsDownWithNoReads(t *testing.T) {
	sched := NewScheduler()
	n := NewNode(100, func() ([]string, time.Duration, error) { return nil, 0, nil }, sched, false)
	n.Dispatch()
	if _, ok := sched.NextDeadline(); ok {
		t.Fatalf("a node with no reads must not remain scheduled")
	}
}
