package metrics

import (
	"sync"
	"time"

	"github.com/gateway-fm/stps/pkg/types"
)

// Sampler calls a function on a fixed interval until stopped.
type Sampler struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartSampler starts calling fn every interval on its own goroutine.
func StartSampler(interval time.Duration, fn func(now time.Time)) *Sampler {
	s := &Sampler{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				fn(now)
			}
		}
	}()
	return s
}

// Stop ends sampling and waits for an in-flight call to return. Safe to call more than once.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Progress turns a sent counter into progress samples. Sample must be called
// from one goroutine at a time; the counter may be written concurrently.
type Progress struct {
	sent  *Counter
	total uint64

	prevSent uint64
	prevAt   time.Time
	lastTPS  Float
}

// NewProgress tracks sent against total, starting at start.
func NewProgress(sent *Counter, total uint64, start time.Time) *Progress {
	return &Progress{sent: sent, total: total, prevAt: start}
}

// Sample takes a snapshot. TPS is the rate since the previous snapshot.
func (p *Progress) Sample(now time.Time) types.ProgressSample {
	sent := p.sent.Load()
	elapsed := now.Sub(p.prevAt).Seconds()

	var tps float64
	if elapsed > 0 {
		tps = float64(sent-p.prevSent) / elapsed
	}
	p.prevSent, p.prevAt = sent, now
	p.lastTPS.Store(tps)

	var percent float64
	if p.total > 0 {
		percent = float64(sent) / float64(p.total) * 100
	}
	return types.ProgressSample{
		Timestamp: now,
		Sent:      sent,
		Total:     p.total,
		Percent:   percent,
		TPS:       tps,
	}
}

// LastTPS returns the rate of the most recent sample.
func (p *Progress) LastTPS() float64 {
	return p.lastTPS.Load()
}
