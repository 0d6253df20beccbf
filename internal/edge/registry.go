package edge

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// Registry tracks live connections by session id, for health reporting
// and for replacing a session's previous connection on resume.
type Registry struct {
	conns *xsync.Map[string, *connState]
}

func NewRegistry() *Registry {
	return &Registry{conns: xsync.NewMap[string, *connState]()}
}

// Add registers a connection under its session id and returns the
// connection it displaced, if any.
func (r *Registry) Add(sessionID string, c *connState) *connState {
	var displaced *connState
	r.conns.Compute(sessionID, func(old *connState, loaded bool) (*connState, xsync.ComputeOp) {
		if loaded && old != c {
			displaced = old
		}
		return c, xsync.UpdateOp
	})
	return displaced
}

// Remove drops the mapping if it still points at c.
func (r *Registry) Remove(sessionID string, c *connState) {
	r.conns.Compute(sessionID, func(old *connState, loaded bool) (*connState, xsync.ComputeOp) {
		if !loaded || old != c {
			return old, xsync.CancelOp
		}
		return nil, xsync.DeleteOp
	})
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return r.conns.Size()
}
