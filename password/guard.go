package password

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrHashTimeout is returned when a hashing operation could not acquire a
// slot and complete within the guard's timeout. Verification paths must treat
// it as a failure, never as a pass.
var ErrHashTimeout = errors.New("password hashing timed out")

// Guard wraps an [Argon2] hasher with a weighted-semaphore concurrency cap.
// Each argon2id operation pins the configured memory cost for its duration,
// so in-flight operations are limited to maxConcurrent to bound peak memory
// at maxConcurrent * Config.Memory. Requests beyond the cap queue on the
// semaphore; a request that cannot finish within timeout fails closed.
type Guard struct {
	hasher  *Argon2
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewGuard builds a guard around hasher. maxConcurrent and timeout must be
// positive.
func NewGuard(hasher *Argon2, maxConcurrent int, timeout time.Duration) (*Guard, error) {
	if hasher == nil {
		return nil, errors.New("nil hasher")
	}
	if maxConcurrent <= 0 {
		return nil, errors.New("max concurrent must be positive")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}

	return &Guard{
		hasher:  hasher,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
	}, nil
}

// Hash derives a hash record under the concurrency cap.
func (g *Guard) Hash(ctx context.Context, password string) (string, error) {
	var encoded string
	err := g.run(ctx, func() error {
		var hashErr error
		encoded, hashErr = g.hasher.Hash(password)
		return hashErr
	})
	if err != nil {
		return "", err
	}
	return encoded, nil
}

// Verify checks password against encodedHash under the concurrency cap.
// Timeout and cancellation surface as errors, so a stuck verification can
// never be mistaken for a match.
func (g *Guard) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	var ok bool
	err := g.run(ctx, func() error {
		var verifyErr error
		ok, verifyErr = g.hasher.Verify(password, encodedHash)
		return verifyErr
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// NeedsUpgrade proxies to the underlying hasher. Parsing is cheap and needs
// no slot.
func (g *Guard) NeedsUpgrade(encodedHash string) (bool, error) {
	return g.hasher.NeedsUpgrade(encodedHash)
}

func (g *Guard) run(ctx context.Context, op func() error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return ErrHashTimeout
	}

	// argon2 key derivation cannot be interrupted once started; run it on its
	// own goroutine and abandon the result on timeout. The slot is released
	// only when the derivation actually finishes, keeping the memory bound
	// honest even for abandoned operations.
	done := make(chan error, 1)
	go func() {
		defer g.sem.Release(1)
		done <- op()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrHashTimeout
	}
}
