package mission

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Context holds the identity of the running session and the current tick
type Context struct {
	mu        sync.RWMutex
	sessionID string
	campaign  string
	startedAt time.Time

	tick atomic.Uint64
}

// NewContext creates a new Context with a fresh session id
func NewContext(campaign string) *Context {
	return &Context{
		sessionID: uuid.NewString(),
		campaign:  campaign,
		startedAt: time.Now().UTC(),
	}
}

// SessionID returns the id of this process run
func (mc *Context) SessionID() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.sessionID
}

// Campaign returns the campaign name
func (mc *Context) Campaign() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.campaign
}

// StartedAt returns when the session began
func (mc *Context) StartedAt() time.Time {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.startedAt
}

// SetCampaign renames the campaign, used when a snapshot names a different one
func (mc *Context) SetCampaign(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.campaign = name
}

// NextTick advances the tick counter and returns the new value
func (mc *Context) NextTick() uint64 {
	return mc.tick.Add(1)
}

// Tick returns the current tick number
func (mc *Context) Tick() uint64 {
	return mc.tick.Load()
}

// LogAttrs is a logging.ContextProvider adding session attributes to every record
func (mc *Context) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("session", mc.SessionID()),
		slog.Uint64("tick", mc.Tick()),
	}
}
