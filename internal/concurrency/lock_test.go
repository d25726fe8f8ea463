package concurrency

import (
	"testing"
	"time"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	locks := NewKeyedLocks()
	release := locks.Acquire("acme/p1")

	got := make(chan struct{})
	go func() {
		r := locks.Acquire("acme/p1")
		close(got)
		r()
	}()

	select {
	case <-got:
		t.Fatal("second acquire proceeded while the key was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second acquire still blocked after release")
	}
}

func TestAcquireDistinctKeysProceed(t *testing.T) {
	locks := NewKeyedLocks()
	r1 := locks.Acquire("acme/p1")

	done := make(chan struct{})
	go func() {
		r2 := locks.Acquire("acme/p2")
		r2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct keys contended")
	}
	r1()
}
