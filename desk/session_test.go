package desk

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/optiondesk/optiondesk/desk/securities"
)

// testLogger creates a discard logger for tests
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSessionManager(t *testing.T) {
	manager := NewSessionManager(testLogger())

	if manager.sessionDuration != DefaultSessionDuration {
		t.Errorf("Expected default duration of %v, got %v", DefaultSessionDuration, manager.sessionDuration)
	}

	if len(manager.sessions) != 0 {
		t.Error("Expected empty sessions map")
	}

	custom := NewSessionManagerWithDuration(30*time.Minute, testLogger())
	if custom.sessionDuration != 30*time.Minute {
		t.Errorf("Expected duration %v, got %v", 30*time.Minute, custom.sessionDuration)
	}
}

func TestGenerateSession(t *testing.T) {
	manager := NewSessionManager(testLogger())

	sessionID := manager.Generate()

	if !strings.HasPrefix(sessionID, mcpSessionPrefix) {
		t.Errorf("Expected session ID to have prefix %s, got %s", mcpSessionPrefix, sessionID)
	}

	if _, err := uuid.Parse(sessionID[len(mcpSessionPrefix):]); err != nil {
		t.Errorf("Expected valid UUID after prefix, got error: %v", err)
	}

	session, err := manager.Get(sessionID)
	if err != nil {
		t.Fatalf("Expected session to exist, got: %v", err)
	}

	if session.Terminated {
		t.Error("Expected new session to not be terminated")
	}

	if session.Draft == nil || session.Draft.Len() != 0 {
		t.Error("Expected new session to have an empty draft")
	}
}

func TestValidateSession(t *testing.T) {
	manager := NewSessionManager(testLogger())

	if _, err := manager.Validate(""); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("Expected ErrEmptySessionID, got %v", err)
	}

	if _, err := manager.Validate(mcpSessionPrefix + uuid.New().String()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	sessionID := manager.Generate()
	isTerminated, err := manager.Validate(sessionID)
	if err != nil {
		t.Errorf("Expected no error for valid session, got: %v", err)
	}
	if isTerminated {
		t.Error("Expected new session to not be terminated")
	}

	manager.mu.Lock()
	manager.sessions[sessionID].ExpiresAt = time.Now().Add(-time.Hour)
	manager.mu.Unlock()

	isTerminated, err = manager.Validate(sessionID)
	if err != nil {
		t.Errorf("Expected no error for expired session, got: %v", err)
	}
	if !isTerminated {
		t.Error("Expected expired session to be terminated")
	}
}

func TestTerminateSession(t *testing.T) {
	manager := NewSessionManager(testLogger())

	if _, err := manager.Terminate(mcpSessionPrefix + uuid.New().String()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	sessionID := manager.Generate()

	hookCalled := false
	manager.AddCleanupHook(func(session *Session) {
		if session.ID == sessionID {
			hookCalled = true
		}
	})

	isNotAllowed, err := manager.Terminate(sessionID)
	if err != nil {
		t.Errorf("Expected no error for valid session, got: %v", err)
	}
	if isNotAllowed {
		t.Error("Expected termination to be allowed")
	}

	if !hookCalled {
		t.Error("Expected cleanup hook to be called")
	}

	if manager.GetSessionCount() != 0 {
		t.Errorf("Expected terminated session to be removed, got %d sessions", manager.GetSessionCount())
	}
}

func TestGetOrCreate(t *testing.T) {
	manager := NewSessionManager(testLogger())

	if _, _, err := manager.GetOrCreate(""); err == nil {
		t.Error("Expected error for empty session ID")
	}

	session, created, err := manager.GetOrCreate("sse-client-1")
	if err != nil || !created {
		t.Fatalf("Expected new session, got created=%v err=%v", created, err)
	}

	again, created, err := manager.GetOrCreate("sse-client-1")
	if err != nil || created {
		t.Fatalf("Expected existing session, got created=%v err=%v", created, err)
	}
	if again != session {
		t.Error("Expected the same session instance")
	}

	manager.mu.Lock()
	session.ExpiresAt = time.Now().Add(-time.Minute)
	manager.mu.Unlock()

	if _, _, err := manager.GetOrCreate("sse-client-1"); !errors.Is(err, ErrSessionTerminated) {
		t.Errorf("Expected ErrSessionTerminated for expired session, got %v", err)
	}
}

func TestDraft(t *testing.T) {
	manager := NewSessionManager(testLogger())
	sessionID := manager.Generate()

	draft, err := manager.Draft(sessionID)
	if err != nil {
		t.Fatalf("Expected draft, got: %v", err)
	}

	if n, err := draft.Add(securities.Sample()); err != nil || n != 1 {
		t.Errorf("Expected draft size 1, got %d (%v)", n, err)
	}
	if draft.Ticker() != "AMD" {
		t.Errorf("Expected draft ticker AMD, got %q", draft.Ticker())
	}

	items := draft.Items()
	items[0].Ticker = "CHANGED"
	if draft.Items()[0].Ticker != "AMD" {
		t.Error("Expected Items to return a copy")
	}

	same, _ := manager.Draft(sessionID)
	if same.Len() != 1 {
		t.Error("Expected the draft to persist across calls")
	}

	if removed := draft.Clear(); removed != 1 {
		t.Errorf("Expected 1 removed item, got %d", removed)
	}
	if draft.Len() != 0 {
		t.Error("Expected empty draft after Clear")
	}
}

func TestDraftSingleUnderlying(t *testing.T) {
	draft := &Draft{}

	if _, err := draft.Add(securities.Sample()); err != nil {
		t.Fatalf("Expected first add to succeed, got: %v", err)
	}

	lower := securities.Sample()
	lower.Ticker = "amd"
	if n, err := draft.Add(lower); err != nil || n != 2 {
		t.Errorf("Expected same underlying in another case to be accepted, got %d (%v)", n, err)
	}

	spy := securities.Security{
		Ticker:       "SPY",
		SecurityType: securities.Call,
		Strike:       340,
		Weight:       1,
		Expiry:       securities.NewDate(2020, time.September, 18),
	}
	n, err := draft.Add(spy)
	if !errors.Is(err, ErrMixedUnderlying) {
		t.Errorf("Expected ErrMixedUnderlying, got %v", err)
	}
	if n != 2 || draft.Len() != 2 {
		t.Errorf("Expected the draft to keep 2 items, got %d", draft.Len())
	}

	draft.Clear()
	if draft.Ticker() != "" {
		t.Errorf("Expected empty ticker after Clear, got %q", draft.Ticker())
	}
	if _, err := draft.Add(spy); err != nil {
		t.Errorf("Expected a cleared draft to accept a new underlying, got: %v", err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	manager := NewSessionManager(testLogger())

	expired := manager.Generate()
	active := manager.Generate()

	manager.mu.Lock()
	manager.sessions[expired].ExpiresAt = time.Now().Add(-time.Hour)
	manager.mu.Unlock()

	if cleaned := manager.CleanupExpiredSessions(); cleaned != 1 {
		t.Errorf("Expected 1 cleaned session, got %d", cleaned)
	}

	if _, err := manager.Get(expired); err == nil {
		t.Error("Expected expired session to be removed")
	}
	if _, err := manager.Get(active); err != nil {
		t.Errorf("Expected active session to remain, got: %v", err)
	}
}

func TestConcurrentDraftAccess(t *testing.T) {
	manager := NewSessionManager(testLogger())
	sessionID := manager.Generate()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			draft, err := manager.Draft(sessionID)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := draft.Add(securities.Sample()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	draft, _ := manager.Draft(sessionID)
	if draft.Len() != 50 {
		t.Errorf("Expected 50 draft items, got %d", draft.Len())
	}
}
