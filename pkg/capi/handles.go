package capi

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/engine"
)

// Handle identifies one engine instance across the boundary. Handles
// start at 1 and are never reused, so a stale handle always fails
// cleanly instead of reaching somebody else's engine. Zero is never a
// valid handle.
type Handle uint64

var (
	handleMu sync.RWMutex
	handles  = make(map[Handle]*engine.Engine)
	lastID   atomic.Uint64
)

// Create allocates a new engine and returns its handle.
func Create() Handle {
	h := Handle(lastID.Add(1))
	eng := engine.New(fmt.Sprintf("handle-%d", h))

	handleMu.Lock()
	handles[h] = eng
	handleMu.Unlock()
	return h
}

// Destroy releases the engine behind h. Destroying an unknown or
// already-destroyed handle is a no-op.
func Destroy(h Handle) {
	handleMu.Lock()
	eng, exists := handles[h]
	delete(handles, h)
	handleMu.Unlock()

	if !exists {
		return
	}
	if err := eng.Close(); err != nil {
		slog.Warn("engine close failed on destroy", "handle", uint64(h), "error", err)
	}
}

func lookup(h Handle) (*engine.Engine, error) {
	handleMu.RLock()
	eng, exists := handles[h]
	handleMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: unknown handle %d", core.ErrInvalidArgument, h)
	}
	return eng, nil
}
