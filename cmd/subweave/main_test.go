package main

import (
	"sync/atomic"
	"testing"
)

func TestSkipOverlapping(t *testing.T) {
	var runs atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	done := make(chan struct{})

	job := skipOverlapping(func() {
		runs.Add(1)
		entered <- struct{}{}
		<-release
	})

	go func() {
		job()
		close(done)
	}()
	<-entered

	// Fires while the first invocation is still inside the job.
	job()
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1 (overlapping invocation must be skipped)", got)
	}

	close(release)
	<-done

	// Sequential invocations still run.
	job()
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}
