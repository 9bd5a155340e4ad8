package subcategory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/metrics"
)

// RecorderConfig tunes the background writer
type RecorderConfig struct {
	BufferSize    int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
}

// DefaultRecorderConfig returns the recorder defaults
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BufferSize:    1024,
		FlushInterval: 10 * time.Second,
		FlushTimeout:  5 * time.Second,
	}
}

// Recorder batches pattern hits and writes them to a core.PatternCounter
// from a single goroutine. Record never blocks; hits are dropped when the
// buffer is full.
type Recorder struct {
	counter core.PatternCounter
	cfg     RecorderConfig
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	hits   chan Hit
	done   chan struct{}
}

// NewRecorder starts the writer goroutine
func NewRecorder(counter core.PatternCounter, cfg RecorderConfig, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRecorderConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}

	r := &Recorder{
		counter: counter,
		cfg:     cfg,
		logger:  logger,
		hits:    make(chan Hit, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues a hit
func (r *Recorder) Record(hit Hit) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.hits <- hit:
	default:
		metrics.PatternHitsDropped.Inc()
	}
}

// Close flushes queued hits and stops the writer
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.hits)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make(map[Hit]int64)
	for {
		select {
		case hit, ok := <-r.hits:
			if !ok {
				r.flush(pending)
				return
			}
			pending[hit]++
			if len(pending) >= r.cfg.BufferSize {
				r.flush(pending)
			}
		case <-ticker.C:
			r.flush(pending)
		}
	}
}

func (r *Recorder) flush(pending map[Hit]int64) {
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushTimeout)
	defer cancel()

	for hit, delta := range pending {
		if err := r.counter.IncrementPattern(ctx, string(hit.Category), hit.Subcategory, hit.Pattern, delta); err != nil {
			r.logger.Warn("Failed to persist pattern hit",
				zap.String("category", string(hit.Category)),
				zap.String("subcategory", hit.Subcategory),
				zap.Error(err))
		}
		delete(pending, hit)
	}
}
