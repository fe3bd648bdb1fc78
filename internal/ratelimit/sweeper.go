package ratelimit

import (
	"sync"
	"time"

	"github.com/smallbiznis/gymledger/internal/clock"
	"go.uber.org/zap"
)

// Sweeper periodically drops expired keys from a MemoryStore.
type Sweeper struct {
	store    *MemoryStore
	clock    clock.Clock
	interval time.Duration
	log      *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(store *MemoryStore, c clock.Clock, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		clock:    c,
		interval: interval,
		log:      log.Named("ratelimit.sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if removed := s.store.Sweep(s.clock.Now()); removed > 0 {
				s.log.Debug("expired attempt keys removed", zap.Int("removed", removed))
			}
		}
	}
}
