package backoff

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt, saturating at math.MaxInt64.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1 << attempt)

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// FullJitter returns a random duration in [0, delay). It uses crypto/rand and
// falls back to a seeded PCG if the system entropy source fails.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return time.Duration(fallbackRand(int64(delay)))
	}

	return time.Duration(n.Int64())
}

func fallbackRand(maxValue int64) int64 {
	var seed [8]byte

	if _, err := rand.Read(seed[:]); err != nil {
		return maxValue / 2
	}

	rng := mrand.New(mrand.NewPCG(binary.LittleEndian.Uint64(seed[:]), 0)) // #nosec G404 -- jitter only

	return rng.Int64N(maxValue)
}

// Base returns the un-jittered delay that follows attempt n (1-based):
// base * 2^(n-1), capped at maxDelay when maxDelay > 0. It is non-decreasing
// in n.
func Base(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := Exponential(base, attempt-1)
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}

	return delay
}

// Delay returns the wait after attempt n (1-based): base * 2^(n-1) plus a
// uniform jitter in [0, base), capped at maxDelay when maxDelay > 0.
func Delay(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := Exponential(base, attempt-1)

	jitter := FullJitter(base)
	if delay > time.Duration(math.MaxInt64)-jitter {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay += jitter
	}

	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}

	return delay
}

// SleepWithContext waits for duration or until ctx is done. Zero or negative
// durations return immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
