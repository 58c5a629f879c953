package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/document"
	"github.com/manpreetbhatti/synclink/internal/metrics"
	"github.com/manpreetbhatti/synclink/internal/store"
)

type Config struct {
	Workers      int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		WriteTimeout: 10 * time.Second,
	}
}

// Scheduler writes saved documents behind the broadcast path. Saves for the
// same document are coalesced while waiting, and at most one write per
// document is in flight, so a document's writes land in submission order.
// Failed writes are logged and dropped.
type Scheduler struct {
	store   store.DocumentStore
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  map[string]*document.Document
	queue    []string
	inflight map[string]struct{}
	stopped  bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(s store.DocumentStore, config Config, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Scheduler{
		store:    s,
		config:   config,
		logger:   logger.Named("persist"),
		metrics:  m,
		pending:  make(map[string]*document.Document),
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.run()
	}
	s.logger.Info("persistence scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("write_timeout", s.config.WriteTimeout))
}

// Stop rejects new saves, writes everything still pending and waits for
// the workers to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stop)
	})
	s.wg.Wait()
	s.logger.Info("persistence scheduler stopped")
}

// Submit queues doc for writing and returns immediately. It reports false
// when the scheduler is stopped and the save was discarded.
func (s *Scheduler) Submit(doc *document.Document) bool {
	if doc == nil || doc.ID == "" {
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("save discarded after shutdown", zap.String("doc_id", doc.ID))
		return false
	}
	if _, waiting := s.pending[doc.ID]; waiting {
		s.metrics.RecordCoalesced()
	} else {
		s.queue = append(s.queue, doc.ID)
	}
	s.pending[doc.ID] = doc.Clone()
	s.mu.Unlock()

	s.signal()
	return true
}

// Pending reports saves not yet picked up by a worker.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		if doc, ok := s.next(); ok {
			s.write(doc)
			s.done(doc.ID)
			continue
		}

		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

// next claims the oldest queued document that has no write in flight.
func (s *Scheduler) next() (*document.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range s.queue {
		if _, busy := s.inflight[id]; busy {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		doc := s.pending[id]
		delete(s.pending, id)
		s.inflight[id] = struct{}{}

		if len(s.queue) > 0 {
			s.signal()
		}
		return doc, true
	}
	return nil, false
}

func (s *Scheduler) done(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	_, more := s.pending[id]
	s.mu.Unlock()

	if more {
		s.signal()
	}
}

func (s *Scheduler) write(doc *document.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	err := s.store.Upsert(ctx, doc)
	s.metrics.RecordPersist(err)
	if err != nil {
		s.logger.Error("failed to persist document", zap.String("doc_id", doc.ID), zap.Error(err))
		return
	}
	s.logger.Debug("document persisted", zap.String("doc_id", doc.ID))
}
