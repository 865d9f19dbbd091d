package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper removes temp artifacts older than maxAge.
type Sweeper interface {
	SweepStale(maxAge time.Duration) (int, error)
}

// Janitor periodically deletes temp files left behind by crashed or killed
// requests.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewJanitor creates a janitor that sweeps every interval.
func NewJanitor(sweeper Sweeper, interval, maxAge time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Janitor{
		sweeper:  sweeper,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one sweep immediately and then one per interval.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.loop()
}

// Stop ends the sweep loop and waits for it.
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	removed, err := j.sweeper.SweepStale(j.maxAge)
	if err != nil {
		j.logger.Warn("temp sweep failed", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("removed stale temp files", "count", removed)
	}
}
