package callsession

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("call not found")

// Manager is the registry of live calls keyed by stream SID. Entries
// that go quiet past the inactivity timeout are reaped by the janitor.
type Manager struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	byCallSID         map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		calls:             make(map[string]*Call),
		byCallSID:         make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Register creates and records a call for a newly started stream. A
// second start for the same stream SID replaces the stale entry.
func (m *Manager) Register(streamSID, callSID string, params Params) *Call {
	c := New(streamSID, callSID, params)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[streamSID] = c
	if callSID != "" {
		m.byCallSID[callSID] = streamSID
	}
	return c
}

func (m *Manager) Get(streamSID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[streamSID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *Manager) GetByCallSID(callSID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	streamSID, ok := m.byCallSID[callSID]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := m.calls[streamSID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Release removes a call from the registry when its stream ends and
// returns it for final persistence.
func (m *Manager) Release(streamSID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[streamSID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.calls, streamSID)
	if c.CallSID != "" {
		delete(m.byCallSID, c.CallSID)
	}
	return c, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Call

	m.mu.Lock()
	for sid, c := range m.calls {
		if now.Sub(c.LastActivityAt()) < m.inactivityTimeout {
			continue
		}
		delete(m.calls, sid)
		if c.CallSID != "" {
			delete(m.byCallSID, c.CallSID)
		}
		expired = append(expired, c)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}
