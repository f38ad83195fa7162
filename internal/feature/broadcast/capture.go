package broadcast

import (
	"sync"
	"time"
)

type pending struct {
	kind    Kind
	expires time.Time
}

// Captures remembers which admins have asked to broadcast the next photo or
// video they send. Each request expires after the configured window.
type Captures struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	pending map[int64]pending
}

// NewCaptures constructs an empty capture set with the given window.
func NewCaptures(window time.Duration) *Captures {
	return &Captures{
		window:  window,
		now:     time.Now,
		pending: make(map[int64]pending),
	}
}

// Arm waits for the next media of kind from adminID, replacing any earlier
// request from the same admin.
func (c *Captures) Arm(adminID int64, kind Kind) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.window)
	c.pending[adminID] = pending{kind: kind, expires: expires}

	return expires
}

// Take consumes the pending request of adminID if it is for kind and has not
// expired. Expired requests are dropped.
func (c *Captures) Take(adminID int64, kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[adminID]
	if !ok {
		return false
	}
	if !c.now().Before(req.expires) {
		delete(c.pending, adminID)
		return false
	}
	if req.kind != kind {
		return false
	}

	delete(c.pending, adminID)
	return true
}

// Pending reports whether adminID has a live request.
func (c *Captures) Pending(adminID int64) (Kind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[adminID]
	if !ok || !c.now().Before(req.expires) {
		return "", false
	}

	return req.kind, true
}
