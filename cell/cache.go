package cell

import (
	"context"
	"errors"
	"sync"

	"github.com/TuSKan/zarr-cells/lazy"
)

// Cache holds realized buffers by chunk index. Entries are never evicted;
// they live until Clear. Concurrent lookups of the same index share a single
// realization.
type Cache struct {
	mu      sync.Mutex
	entries map[int]*entry
}

type entry struct {
	done   chan struct{}
	buf    *lazy.Buffer
	err    error
	leases int
}

var errRealizePanicked = errors.New("realize panicked")

func NewCache() *Cache {
	return &Cache{entries: make(map[int]*entry)}
}

// getOrRealize returns the buffer for index, calling realize on a miss.
// hit reports whether the buffer was already present or being realized by
// another caller. A failed realization is not stored.
func (c *Cache) getOrRealize(
	ctx context.Context,
	index int,
	realize func(context.Context) (*lazy.Buffer, error),
) (buf *lazy.Buffer, hit bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[index]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
		if e.err != nil {
			return nil, true, e.err
		}
		return e.buf, true, nil
	}
	e := &entry{done: make(chan struct{})}
	c.entries[index] = e
	c.mu.Unlock()

	// A panicking realize must still release waiters.
	e.err = errRealizePanicked
	defer func() {
		if e.err != nil {
			c.mu.Lock()
			delete(c.entries, index)
			c.mu.Unlock()
		}
		close(e.done)
	}()

	e.buf, e.err = realize(ctx)
	return e.buf, false, e.err
}

// lease registers a new lease on the entry for index.
func (c *Cache) lease(index int, buf *lazy.Buffer) *Lease {
	c.mu.Lock()
	e := c.entries[index]
	if e != nil {
		e.leases++
	}
	c.mu.Unlock()

	return newLease(buf, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e != nil && e.leases > 0 {
			e.leases--
		}
	})
}

// Len returns the number of realized buffers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if isDone(e) && e.err == nil {
			n++
		}
	}
	return n
}

// Contains reports whether index has been realized.
func (c *Cache) Contains(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[index]
	return ok && isDone(e) && e.err == nil
}

// Outstanding returns the number of unreleased leases across all entries.
func (c *Cache) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		n += e.leases
	}
	return n
}

// Clear drops every entry unless leases are outstanding.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		n += e.leases
	}
	if n > 0 {
		return leasesOutstanding(n)
	}
	c.entries = make(map[int]*entry)
	return nil
}

func isDone(e *entry) bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
