package gateway

import (
	"sync"
	"time"
)

// RateLimiter implements per-identity rate limiting using a token bucket
type RateLimiter struct {
	buckets    map[string]*tokenBucket
	bucketsMux sync.RWMutex
	capacity   float64
	perSecond  float64
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// tokenBucket represents a token bucket for rate limiting
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	mutex      sync.Mutex
}

// NewRateLimiter allows limit requests per period with bursts of up to burst.
// burst <= 0 uses limit as the bucket size.
func NewRateLimiter(limit int, period time.Duration, burst int) *RateLimiter {
	if burst <= 0 {
		burst = limit
	}
	return &RateLimiter{
		buckets:   make(map[string]*tokenBucket),
		capacity:  float64(burst),
		perSecond: float64(limit) / period.Seconds(),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Allow checks if a request is allowed for the given identity
func (rl *RateLimiter) Allow(identity string) bool {
	bucket := rl.getBucket(identity)

	bucket.mutex.Lock()
	defer bucket.mutex.Unlock()

	now := rl.now()
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	if elapsed > 0 {
		bucket.tokens = min(bucket.tokens+elapsed*rl.perSecond, rl.capacity)
		bucket.lastRefill = now
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// Reset refills the bucket for an identity
func (rl *RateLimiter) Reset(identity string) {
	rl.bucketsMux.Lock()
	defer rl.bucketsMux.Unlock()

	if bucket, exists := rl.buckets[identity]; exists {
		bucket.mutex.Lock()
		bucket.tokens = rl.capacity
		bucket.lastRefill = rl.now()
		bucket.mutex.Unlock()
	}
}

// Remaining returns the whole tokens left for an identity
func (rl *RateLimiter) Remaining(identity string) int {
	bucket := rl.getBucket(identity)

	bucket.mutex.Lock()
	defer bucket.mutex.Unlock()

	return int(bucket.tokens)
}

// getBucket gets or creates a token bucket for an identity
func (rl *RateLimiter) getBucket(identity string) *tokenBucket {
	rl.bucketsMux.RLock()
	bucket, exists := rl.buckets[identity]
	rl.bucketsMux.RUnlock()

	if exists {
		return bucket
	}

	rl.bucketsMux.Lock()
	defer rl.bucketsMux.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists := rl.buckets[identity]; exists {
		return bucket
	}

	bucket = &tokenBucket{
		tokens:     rl.capacity,
		lastRefill: rl.now(),
	}
	rl.buckets[identity] = bucket

	return bucket
}

// cleanup drops buckets that have refilled completely
func (rl *RateLimiter) cleanup() {
	rl.bucketsMux.Lock()
	defer rl.bucketsMux.Unlock()

	now := rl.now()
	for identity, bucket := range rl.buckets {
		bucket.mutex.Lock()
		full := bucket.tokens+now.Sub(bucket.lastRefill).Seconds()*rl.perSecond >= rl.capacity
		bucket.mutex.Unlock()
		if full {
			delete(rl.buckets, identity)
		}
	}
}

// StartCleanup starts periodic cleanup of idle buckets
func (rl *RateLimiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup()
			case <-rl.stop:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine
func (rl *RateLimiter) StopCleanup() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
