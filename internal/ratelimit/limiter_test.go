package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		rate         float64
		wantInterval time.Duration
	}{
		{"100 per second", 100, 10 * time.Millisecond},
		{"1000 per second", 1000, time.Millisecond},
		{"zero clamps to one", 0, time.Second},
		{"fractional clamps to one", 0.25, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.rate)
			if l.Interval() != tt.wantInterval {
				t.Errorf("Interval() = %v, want %v", l.Interval(), tt.wantInterval)
			}
		})
	}
	if got := New(250).Rate(); got != 250 {
		t.Errorf("Rate() = %v, want 250", got)
	}
}

func TestWaitFirstPermitImmediate(t *testing.T) {
	l := New(1)
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("first permit took %v", elapsed)
	}
}

func TestWaitCancelled(t *testing.T) {
	l := New(1)
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error from cancelled wait")
	}

	done, stop := context.WithCancel(context.Background())
	stop()
	if err := l.Wait(done); err == nil {
		t.Error("expected error for a context cancelled before waiting")
	}
}

func TestCancelledWaitReturnsPermit(t *testing.T) {
	l := New(100)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	for range 10 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_ = l.Wait(ctx)
		cancel()
	}

	// Nine permits at 10ms take ~90ms; leaked slots would push this past 190ms.
	start := time.Now()
	for range 9 {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("cancelled waits leaked permits: 9 permits took %v", elapsed)
	}
}

func TestWaitSpacing(t *testing.T) {
	l := New(100)
	const n = 10
	start := time.Now()
	for range n {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	want := time.Duration(n-1) * l.Interval()
	if elapsed < want*8/10 || elapsed > want*13/10 {
		t.Errorf("%d permits took %v, want ~%v", n, elapsed, want)
	}
}

func TestWaitConcurrent(t *testing.T) {
	l := New(10_000)
	const workers, each = 50, 40

	var wg sync.WaitGroup
	var issued atomic.Int64
	start := time.Now()
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				if err := l.Wait(context.Background()); err != nil {
					return
				}
				issued.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if issued.Load() != workers*each {
		t.Fatalf("issued %d permits, want %d", issued.Load(), workers*each)
	}
	want := time.Duration(workers*each-1) * l.Interval()
	if elapsed < want*7/10 {
		t.Errorf("%d permits took %v, faster than the rate allows (~%v)", workers*each, elapsed, want)
	}
}

func TestNoBurstAfterIdle(t *testing.T) {
	l := New(100)
	_ = l.Wait(context.Background())
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	for range 3 {
		_ = l.Wait(context.Background())
	}
	// The first permit after idling is immediate, the next two are spaced.
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("idle limiter burst: 3 permits took %v", elapsed)
	}
}
