package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiters hands out one token bucket per key, such as a remote IP.
// Buckets idle longer than the cleanup interval are dropped.
type KeyedLimiters struct {
	limiters        map[string]*entry
	rate            rate.Limit
	burst           int
	mu              sync.Mutex
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewKeyedLimiters(perSecond float64, burst int) *KeyedLimiters {
	kl := &KeyedLimiters{
		limiters:        make(map[string]*entry),
		rate:            rate.Limit(perSecond),
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go kl.cleanup()
	return kl
}

func (kl *KeyedLimiters) Get(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	e, ok := kl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(kl.rate, kl.burst)}
		kl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (kl *KeyedLimiters) Allow(key string) bool {
	return kl.Get(key).Allow()
}

func (kl *KeyedLimiters) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

func (kl *KeyedLimiters) Remove(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	delete(kl.limiters, key)
}

func (kl *KeyedLimiters) Stop() {
	kl.stopOnce.Do(func() { close(kl.stop) })
}

func (kl *KeyedLimiters) cleanup() {
	ticker := time.NewTicker(kl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-kl.stop:
			return
		case now := <-ticker.C:
			kl.evictIdle(now.Add(-kl.cleanupInterval))
		}
	}
}

func (kl *KeyedLimiters) evictIdle(cutoff time.Time) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	for key, e := range kl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(kl.limiters, key)
		}
	}
}
