package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optiondesk/optiondesk/desk/securities"
)

const (
	// Default session configuration
	DefaultSessionDuration = 12 * time.Hour
	DefaultCleanupInterval = 30 * time.Minute

	mcpSessionPrefix = "optiondesk-"
)

var (
	ErrEmptySessionID    = errors.New("session ID cannot be empty")
	ErrSessionNotFound   = errors.New("session ID not found")
	ErrSessionTerminated = errors.New("session is terminated")
	ErrMixedUnderlying   = errors.New("draft portfolio holds a different underlying")
)

// Draft is the portfolio a client assembles from catalog securities during
// a session. It is safe for concurrent use.
type Draft struct {
	mu    sync.Mutex
	items []securities.Security
}

// Add appends a security and returns the new draft size. Every security
// in a draft shares one underlying.
func (d *Draft) Add(sec securities.Security) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) > 0 && !strings.EqualFold(strings.TrimSpace(d.items[0].Ticker), strings.TrimSpace(sec.Ticker)) {
		return len(d.items), fmt.Errorf("%w: %s, got %s", ErrMixedUnderlying, d.items[0].Ticker, sec.Ticker)
	}
	d.items = append(d.items, sec)
	return len(d.items), nil
}

// Ticker is the underlying of the draft, empty while the draft is empty.
func (d *Draft) Ticker() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return ""
	}
	return d.items[0].Ticker
}

// Items returns a copy of the draft contents.
func (d *Draft) Items() []securities.Security {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]securities.Security, len(d.items))
	copy(out, d.items)
	return out
}

// Clear empties the draft and returns how many items were removed.
func (d *Draft) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	d.items = nil
	return n
}

func (d *Draft) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Session represents a single MCP client session.
type Session struct {
	ID         string
	Terminated bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Draft      *Draft
}

// SessionManager manages all active sessions.
type SessionManager struct {
	sessions        map[string]*Session
	mu              sync.RWMutex
	sessionDuration time.Duration
	cleanupHooks    []CleanupHook
	cleanupContext  context.Context
	cleanupCancel   context.CancelFunc
	logger          *slog.Logger
}

// CleanupHook is called when a session is terminated or expires.
type CleanupHook func(session *Session)

// NewSessionManager creates a new manager for MCP sessions.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	return NewSessionManagerWithDuration(DefaultSessionDuration, logger)
}

// NewSessionManagerWithDuration creates a session manager whose sessions
// expire after d.
func NewSessionManagerWithDuration(d time.Duration, logger *slog.Logger) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		sessions:        make(map[string]*Session),
		sessionDuration: d,
		cleanupHooks:    make([]CleanupHook, 0),
		cleanupContext:  ctx,
		cleanupCancel:   cancel,
		logger:          logger,
	}
}

func (sm *SessionManager) newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.sessionDuration),
		Draft:     &Draft{},
	}
}

// Generate creates a new session and satisfies the server.SessionIdManager interface.
func (sm *SessionManager) Generate() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session := sm.newSession(mcpSessionPrefix + uuid.New().String())
	sm.sessions[session.ID] = session

	sm.logger.Info("Generated new session", "session_id", session.ID, "expires_at", session.ExpiresAt)
	return session.ID
}

// GetOrCreate retrieves an existing session or creates a new one if the ID is not found.
// SSE and stdio clients bring their own session IDs.
func (sm *SessionManager) GetOrCreate(sessionID string) (*Session, bool, error) {
	if sessionID == "" {
		return nil, false, ErrEmptySessionID
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if exists {
		// On-demand expiry check
		if time.Now().After(session.ExpiresAt) {
			session.Terminated = true
		}
		if session.Terminated {
			return nil, false, ErrSessionTerminated
		}
		return session, false, nil
	}

	sm.logger.Info("Creating new session for external ID", "session_id", sessionID)
	session = sm.newSession(sessionID)
	sm.sessions[sessionID] = session

	return session, true, nil
}

// Draft returns the draft portfolio of the session, creating the session
// if needed.
func (sm *SessionManager) Draft(sessionID string) (*Draft, error) {
	session, _, err := sm.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Draft, nil
}

// Terminate marks a session as terminated and runs cleanup hooks.
// It returns (bool, error) to satisfy the server.SessionIdManager interface.
func (sm *SessionManager) Terminate(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, ErrEmptySessionID
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return false, ErrSessionNotFound
	}

	if !session.Terminated {
		session.Terminated = true
		for _, hook := range sm.cleanupHooks {
			hook(session)
		}
	}
	delete(sm.sessions, sessionID)

	return false, nil
}

// Get retrieves a session by its ID.
func (sm *SessionManager) Get(sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// CleanupExpiredSessions removes expired sessions from memory.
func (sm *SessionManager) CleanupExpiredSessions() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for sessionID, session := range sm.sessions {
		if now.After(session.ExpiresAt) {
			if !session.Terminated {
				session.Terminated = true
				for _, hook := range sm.cleanupHooks {
					hook(session)
				}
			}
			delete(sm.sessions, sessionID)
			cleaned++
		}
	}

	return cleaned
}

// AddCleanupHook adds a function to be called when sessions are terminated.
func (sm *SessionManager) AddCleanupHook(hook CleanupHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cleanupHooks = append(sm.cleanupHooks, hook)
}

// StartCleanupRoutine starts a background goroutine to clean up expired sessions.
func (sm *SessionManager) StartCleanupRoutine(ctx context.Context) {
	go sm.cleanupRoutine(ctx)
}

// StopCleanupRoutine stops the background cleanup goroutine.
func (sm *SessionManager) StopCleanupRoutine() {
	if sm.cleanupCancel != nil {
		sm.cleanupCancel()
	}
}

func (sm *SessionManager) cleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sm.logger.Info("Session cleanup routine stopped")
			return
		case <-sm.cleanupContext.Done():
			sm.logger.Info("Session cleanup routine cancelled")
			return
		case <-ticker.C:
			if cleaned := sm.CleanupExpiredSessions(); cleaned > 0 {
				sm.logger.Info("Cleaned up expired sessions", "count", cleaned)
			}
		}
	}
}

// GetSessionCount returns the number of active sessions.
func (sm *SessionManager) GetSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Validate validates a session ID and returns its termination status.
func (sm *SessionManager) Validate(sessionID string) (bool, error) {
	if sessionID == "" {
		return true, ErrEmptySessionID
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return true, ErrSessionNotFound
	}

	if time.Now().After(session.ExpiresAt) {
		return true, nil // Expired is a form of terminated.
	}

	return session.Terminated, nil
}
