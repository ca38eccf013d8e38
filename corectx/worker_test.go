package corectx

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWorker_SubmitRunsTask(t *testing.T) {
	w := NewWorker(4)
	go w.Run()
	defer w.Stop()

	var ran int32
	h, err := w.Submit(func() { atomic.StoreInt32(&ran, 1) })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !h.Wait(time.Second) {
		t.Fatal("task did not complete within timeout")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("task function did not run")
	}
}

func TestWorker_SubmitAfterStopFails(t *testing.T) {
	w := NewWorker(4)
	go w.Run()
	w.Stop()

	if _, err := w.Submit(func() {}); err == nil {
		t.Fatal("expected error submitting to a stopped worker")
	}
}

func TestWorker_SubmitQueueFull(t *testing.T) {
	w := NewWorker(1)
	// Do not start Run, so the queue never drains.
	if _, err := w.Submit(func() {}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := w.Submit(func() {}); err == nil {
		t.Fatal("expected error submitting to a full queue")
	}
	w.Stop()
}

func TestHandle_WaitTimesOut(t *testing.T) {
	w := NewWorker(4)
	go w.Run()
	defer w.Stop()

	block := make(chan struct{})
	h, err := w.Submit(func() { <-block })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.Wait(10 * time.Millisecond) {
		t.Fatal("Wait should have timed out while task is blocked")
	}
	close(block)
	if !h.Wait(time.Second) {
		t.Fatal("task should complete once unblocked")
	}
}
