package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewParsesSchedule(t *testing.T) {
	j, err := New("", nil)
	if err != nil {
		t.Fatalf("default schedule: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := j.Next(base); !got.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("Next = %v", got)
	}

	hourly, err := New("0 * * * *", nil)
	if err != nil {
		t.Fatalf("cron expression: %v", err)
	}
	if got := hourly.Next(base.Add(5 * time.Minute)); !got.Equal(base.Add(time.Hour)) {
		t.Fatalf("hourly Next = %v", got)
	}

	if _, err := New("not a schedule", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	j, err := New("@every 1h", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var ran []string
	j.Add(Task{Name: "broken", Run: func(context.Context) (int, error) {
		ran = append(ran, "broken")
		return 0, errors.New("boom")
	}})
	j.Add(Task{Name: "purge", Run: func(ctx context.Context) (int, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("task context should carry a deadline")
		}
		ran = append(ran, "purge")
		return 3, nil
	}})

	j.RunOnce()
	if len(ran) != 2 || ran[0] != "broken" || ran[1] != "purge" {
		t.Fatalf("ran = %v", ran)
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	j, err := New("@every 1s", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var runs atomic.Int32
	j.Add(Task{Name: "count", Run: func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}})

	ctx := context.Background()
	if err := j.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := j.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatalf("task never ran")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
