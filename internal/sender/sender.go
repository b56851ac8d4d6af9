// Package sender submits a presigned batch in chunks, each chunk a barrier.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/stps/internal/chain"
	"github.com/gateway-fm/stps/internal/metrics"
	"github.com/gateway-fm/stps/pkg/types"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultChunkSize      = 512
	DefaultSampleInterval = time.Second
)

// ErrEmptyBatch is returned when there is nothing to submit.
var ErrEmptyBatch = errors.New("empty batch")

// Chain submits one signed transaction.
type Chain interface {
	Submit(ctx context.Context, tx *chain.SignedTransaction) (common.Hash, error)
}

// Limiter paces individual submissions.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Config for creating a Submitter.
type Config struct {
	Chain          Chain
	ChunkSize      int
	SampleInterval time.Duration
	// Limiter caps the submission rate; nil submits as fast as the node acknowledges.
	Limiter Limiter
	// Prometheus and OnProgress are optional sinks for chunk and progress data.
	Prometheus *metrics.PrometheusMetrics
	OnProgress func(types.ProgressSample)
	Logger     *slog.Logger
}

// Submitter dispatches transactions chunk by chunk. All transactions of a chunk
// are in flight together and the next chunk starts only after every one of them
// was acknowledged. The first rejection ends the run.
type Submitter struct {
	chain          Chain
	chunkSize      int
	sampleInterval time.Duration
	limiter        Limiter
	prom           *metrics.PrometheusMetrics
	onProgress     func(types.ProgressSample)
	logger         *slog.Logger

	// sent is written only by the chunk loop; the sampler reads it.
	sent metrics.Counter
}

// New creates a new Submitter.
func New(cfg Config) *Submitter {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		chain:          cfg.Chain,
		chunkSize:      chunkSize,
		sampleInterval: interval,
		limiter:        cfg.Limiter,
		prom:           cfg.Prometheus,
		onProgress:     cfg.OnProgress,
		logger:         logger,
	}
}

// ChunkSize returns the configured chunk size.
func (s *Submitter) ChunkSize() int { return s.chunkSize }

// Sent returns the number of acknowledged transactions so far.
func (s *Submitter) Sent() uint64 { return s.sent.Load() }

// Chunks splits txs into consecutive chunks of at most size elements. A size
// below one falls back to DefaultChunkSize, as in New.
func Chunks[T any](txs []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	out := make([][]T, 0, (len(txs)+size-1)/size)
	for start := 0; start < len(txs); start += size {
		out = append(out, txs[start:min(start+size, len(txs))])
	}
	return out
}

// Submit sends txs in order of their chunks and returns the run's metrics. On a
// rejection it returns the *chain.SubmissionError together with the metrics of
// the chunks that completed.
func (s *Submitter) Submit(ctx context.Context, txs []*chain.SignedTransaction) (types.RunMetrics, error) {
	if len(txs) == 0 {
		return types.RunMetrics{}, ErrEmptyBatch
	}

	total := uint64(len(txs))
	chunks := Chunks(txs, s.chunkSize)
	ack := metrics.NewAckLatency()
	s.sent.Store(0)

	s.logger.Info("sending transactions", "count", total, "chunkSize", s.chunkSize, "chunks", len(chunks))

	start := time.Now()
	progress := metrics.NewProgress(&s.sent, total, start)
	sampler := metrics.StartSampler(s.sampleInterval, func(now time.Time) {
		p := progress.Sample(now)
		s.logger.Info("progress",
			"sent", p.Sent,
			"total", p.Total,
			"percent", p.Percent,
			"tps", p.TPS,
		)
		if s.prom != nil {
			s.prom.RecordProgress(p)
		}
		if s.onProgress != nil {
			s.onProgress(p)
		}
	})

	completed := 0
	var runErr error
	for i, chunk := range chunks {
		chunkStart := time.Now()
		if err := s.submitChunk(ctx, chunk); err != nil {
			s.logger.Error("chunk failed", "chunk", i, "error", err)
			runErr = err
			break
		}
		took := time.Since(chunkStart)
		ack.Observe(took)
		if s.prom != nil {
			s.prom.RecordChunk(len(chunk), took.Seconds())
		}
		s.sent.Add(uint64(len(chunk)))
		completed++
	}
	sampler.Stop()

	elapsed := time.Since(start)
	rm := types.RunMetrics{
		TotalSubmitted:   s.sent.Load(),
		ElapsedMs:        elapsed.Milliseconds(),
		InstantaneousTPS: progress.LastTPS(),
		Chunks:           completed,
		AckLatency:       ack.Snapshot(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		rm.CumulativeTPS = float64(rm.TotalSubmitted) / secs
	}
	if runErr != nil {
		return rm, runErr
	}

	s.logger.Info("all transactions sent",
		"count", rm.TotalSubmitted,
		"elapsedMs", rm.ElapsedMs,
		"tps", rm.CumulativeTPS,
	)
	return rm, nil
}

// submitChunk dispatches every transaction of the chunk concurrently and waits
// for all acknowledgements. With a limiter, dispatches are spaced by it.
func (s *Submitter) submitChunk(ctx context.Context, chunk []*chain.SignedTransaction) error {
	g, gctx := errgroup.WithContext(ctx)
	var waitErr error
	for _, tx := range chunk {
		if s.limiter != nil {
			if waitErr = s.limiter.Wait(gctx); waitErr != nil {
				break
			}
		}
		g.Go(func() error {
			_, err := s.chain.Submit(gctx, tx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return waitErr
}
