package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/alsksssass/deepagent/internal/store"
)

// ErrKeyClaimed is returned when a result key already has a writer.
var ErrKeyClaimed = errors.New("result key already claimed")

// Claims enforces a single writer per result key within one run.
// Unlike a mutex it never blocks: a second claim on a held key is a scheduling
// bug and is reported as an error.
type Claims struct {
	mu   sync.Mutex
	held map[store.Key]struct{}
}

// NewClaims creates an empty claim set.
func NewClaims() *Claims {
	return &Claims{
		held: make(map[store.Key]struct{}),
	}
}

// Claim marks key as being written. It fails with ErrKeyClaimed if the key is
// already held.
func (c *Claims) Claim(key store.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.held[key]; held {
		return fmt.Errorf("%w: %s", ErrKeyClaimed, key)
	}
	c.held[key] = struct{}{}
	return nil
}

// Release frees key once its artifact is persisted.
func (c *Claims) Release(key store.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, key)
}

// Held returns the number of keys currently claimed.
func (c *Claims) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}
