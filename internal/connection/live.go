package connection

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// LiveConnection is an open adapter bound to one profile.
// Calls enter through a gate sized by the adapter's MaxConcurrency.
type LiveConnection struct {
	ID       uuid.UUID
	Profile  core.ConnectionProfile
	Adapter  adapter.Adapter
	OpenedAt time.Time

	gate     chan struct{}
	lastUsed atomic.Int64 // unix nano timestamp
	inFlight atomic.Int32
	broken   atomic.Bool
	closed   atomic.Bool
}

func newLiveConnection(p core.ConnectionProfile, a adapter.Adapter) *LiveConnection {
	n := a.Capabilities().MaxConcurrency
	if n <= 0 {
		n = 1
	}
	c := &LiveConnection{
		ID:       uuid.New(),
		Profile:  p,
		Adapter:  a,
		OpenedAt: time.Now(),
		gate:     make(chan struct{}, n),
	}
	c.touch()
	return c
}

func (c *LiveConnection) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}

// Enter waits for a free slot and returns the function that gives it back.
// Waiting ends early when ctx is done. A closed connection admits no calls.
func (c *LiveConnection) Enter(ctx context.Context) (func(), error) {
	if c.Closed() {
		return nil, c.closedError()
	}
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.Closed() {
		<-c.gate
		return nil, c.closedError()
	}
	c.inFlight.Add(1)
	c.touch()

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.touch()
			c.inFlight.Add(-1)
			<-c.gate
		}
	}, nil
}

// close marks c closed and closes its adapter once. Calls already holding a
// slot keep running against the closed adapter and fail there.
func (c *LiveConnection) close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Adapter.Close()
}

// Closed reports whether the connection was torn down, released or closed.
func (c *LiveConnection) Closed() bool {
	return c.closed.Load()
}

func (c *LiveConnection) closedError() error {
	return &core.ConnectionError{Profile: c.Profile.Name, Reason: core.ReasonNetwork, Message: "connection closed"}
}

// Engine returns the adapter's engine kind.
func (c *LiveConnection) Engine() core.EngineKind {
	return c.Adapter.Kind()
}

// Backend returns the open adapter.
func (c *LiveConnection) Backend() adapter.Adapter {
	return c.Adapter
}

// Broken reports whether a transport failure was reported on this connection.
func (c *LiveConnection) Broken() bool {
	return c.broken.Load()
}

// LastUsed returns when a call last entered or left the connection.
func (c *LiveConnection) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// InFlight returns the number of calls currently holding a slot.
func (c *LiveConnection) InFlight() int {
	return int(c.inFlight.Load())
}

// idle reports whether nothing has used the connection since cutoff.
func (c *LiveConnection) idle(cutoff time.Time) bool {
	return c.InFlight() == 0 && c.lastUsed.Load() < cutoff.UnixNano()
}
