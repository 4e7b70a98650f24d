package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hikari-mc/chatcore-go/internal/domain"
)

// DebouncedSaver coalesces bursts of save requests into one eventual write.
// It holds a single pending snapshot slot: queueing while a write is armed
// only replaces the slot, and queueing while a write is running arms exactly
// one follow-up write carrying the latest state. Failed writes are logged and
// retried by whatever mutation queues next.
type DebouncedSaver struct {
	store  Store
	delay  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	pending *domain.Snapshot
	armed   bool
	timer   *time.Timer
	stopped bool

	inflight sync.WaitGroup
}

func NewDebouncedSaver(s Store, delay time.Duration, logger *zap.Logger) *DebouncedSaver {
	return &DebouncedSaver{
		store:  s,
		delay:  delay,
		logger: logger,
	}
}

// Queue records snapshot as the latest state to persist and arms the write
// timer if none is armed. Never blocks on I/O.
func (ds *DebouncedSaver) Queue(snapshot *domain.Snapshot) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.stopped {
		return
	}

	ds.pending = snapshot
	if !ds.armed {
		ds.armed = true
		ds.inflight.Add(1)
		ds.timer = time.AfterFunc(ds.delay, ds.flush)
	}
}

func (ds *DebouncedSaver) flush() {
	defer ds.inflight.Done()

	ds.mu.Lock()
	snapshot := ds.pending
	ds.pending = nil
	ds.armed = false
	ds.mu.Unlock()

	if snapshot == nil {
		return
	}

	if err := ds.store.Save(context.Background(), snapshot); err != nil {
		ds.logger.Error("Async channel save failed, will retry on next mutation",
			zap.Error(err))
		return
	}

	ds.logger.Debug("Channel document saved",
		zap.Int("channels", len(snapshot.Channels)))
}

// Stop cancels any armed write and waits for an in-flight one to finish. The
// shutdown path runs its own synchronous save afterwards, superseding
// whatever was pending here.
func (ds *DebouncedSaver) Stop() {
	ds.mu.Lock()
	ds.stopped = true
	ds.pending = nil
	if ds.armed && ds.timer.Stop() {
		ds.armed = false
		ds.inflight.Done()
	}
	ds.mu.Unlock()

	ds.inflight.Wait()
}
