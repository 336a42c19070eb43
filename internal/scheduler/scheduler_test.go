package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleIntervalRuns(t *testing.T) {
	s := New()
	var runs atomic.Int32
	if err := s.ScheduleInterval("tick", 20*time.Millisecond, func() error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected the job to keep running after an error, ran %d times", runs.Load())
	}
}

func TestTagsAreUnique(t *testing.T) {
	s := New()
	noop := func() error { return nil }
	if err := s.ScheduleInterval("sweep", time.Hour, noop); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleInterval("sweep", time.Hour, noop); err == nil {
		t.Fatalf("expected duplicate tag to be rejected")
	}
	if tags := s.Jobs(); len(tags) != 1 || tags[0] != "sweep" {
		t.Fatalf("unexpected jobs %v", tags)
	}
	if err := s.RemoveJob("sweep"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if tags := s.Jobs(); len(tags) != 0 {
		t.Fatalf("expected no jobs, got %v", tags)
	}
}
