package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/x/errorsx"
)

const (
	DefaultMaxClients     = 100
	DefaultClientLifespan = 30 * 24 * time.Hour
)

var ErrTooManyClients = errors.New("registered client limit reached")

// MemoryStore keeps registered clients and issued tokens in memory.
// Everything is lost on restart; clients must register again.
type MemoryStore struct {
	sync.RWMutex
	maxClients             int
	clients                map[string]fosite.Client
	clientExpiry           map[string]time.Time
	authorizeCodes         map[string]fosite.Requester
	accessTokens           map[string]fosite.Requester
	refreshTokens          map[string]fosite.Requester
	accessTokenRequestIDs  map[string]string
	refreshTokenRequestIDs map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		maxClients:             DefaultMaxClients,
		clients:                make(map[string]fosite.Client),
		clientExpiry:           make(map[string]time.Time),
		authorizeCodes:         make(map[string]fosite.Requester),
		accessTokens:           make(map[string]fosite.Requester),
		refreshTokens:          make(map[string]fosite.Requester),
		accessTokenRequestIDs:  make(map[string]string),
		refreshTokenRequestIDs: make(map[string]string),
	}
}

// SetMaxClients changes how many clients the store holds at once.
func (s *MemoryStore) SetMaxClients(n int) {
	s.Lock()
	defer s.Unlock()
	s.maxClients = n
}

// AddClient stores or replaces a client. A zero expiresAt keeps the client
// until it is deleted. New clients are refused once the store is full.
func (s *MemoryStore) AddClient(client fosite.Client, expiresAt time.Time) error {
	s.Lock()
	defer s.Unlock()
	id := client.GetID()
	if _, exists := s.clients[id]; !exists && len(s.clients) >= s.maxClients {
		return ErrTooManyClients
	}
	s.clients[id] = client
	if expiresAt.IsZero() {
		delete(s.clientExpiry, id)
	} else {
		s.clientExpiry[id] = expiresAt
	}
	return nil
}

// ClientCount returns the number of registered clients.
func (s *MemoryStore) ClientCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.clients)
}

// TokenCount returns the number of live access tokens.
func (s *MemoryStore) TokenCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.accessTokens)
}

// GetClient loads the client by its ID.
func (s *MemoryStore) GetClient(_ context.Context, id string) (fosite.Client, error) {
	s.RLock()
	defer s.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, errorsx.WithStack(fosite.ErrNotFound.WithDebugf("Client with id %s does not exist", id))
	}
	if exp, ok := s.clientExpiry[id]; ok && !exp.After(time.Now()) {
		return nil, errorsx.WithStack(fosite.ErrNotFound.WithDebugf("Client with id %s has expired", id))
	}
	return c, nil
}

// ClientAssertionJWTValid accepts every jti; JWT client assertions are not offered.
func (s *MemoryStore) ClientAssertionJWTValid(_ context.Context, _ string) error {
	return nil
}

func (s *MemoryStore) SetClientAssertionJWT(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (s *MemoryStore) DeleteClient(_ context.Context, id string) error {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.clients[id]; !ok {
		return errorsx.WithStack(fosite.ErrNotFound)
	}
	s.removeClient(id)
	return nil
}

// removeClient drops the client with every token issued to it. The caller
// holds the lock.
func (s *MemoryStore) removeClient(id string) {
	delete(s.clients, id)
	delete(s.clientExpiry, id)
	for signature, req := range s.accessTokens {
		if req.GetClient() != nil && req.GetClient().GetID() == id {
			delete(s.accessTokens, signature)
			delete(s.accessTokenRequestIDs, req.GetID())
		}
	}
	for signature, req := range s.refreshTokens {
		if req.GetClient() != nil && req.GetClient().GetID() == id {
			delete(s.refreshTokens, signature)
			delete(s.refreshTokenRequestIDs, req.GetID())
		}
	}
}

// Authorization codes are never issued, but the core validator needs the
// storage to exist.

func (s *MemoryStore) CreateAuthorizeCodeSession(_ context.Context, signature string, requester fosite.Requester) error {
	s.Lock()
	defer s.Unlock()
	s.authorizeCodes[signature] = requester
	return nil
}

func (s *MemoryStore) GetAuthorizeCodeSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.RLock()
	defer s.RUnlock()
	req, ok := s.authorizeCodes[signature]
	if !ok {
		return nil, errorsx.WithStack(fosite.ErrNotFound)
	}
	return req, nil
}

func (s *MemoryStore) InvalidateAuthorizeCodeSession(_ context.Context, signature string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.authorizeCodes, signature)
	return nil
}

func (s *MemoryStore) CreateAccessTokenSession(_ context.Context, signature string, requester fosite.Requester) error {
	s.Lock()
	defer s.Unlock()
	s.accessTokens[signature] = requester
	s.accessTokenRequestIDs[requester.GetID()] = signature
	return nil
}

func (s *MemoryStore) GetAccessTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.RLock()
	defer s.RUnlock()
	req, ok := s.accessTokens[signature]
	if !ok {
		return nil, errorsx.WithStack(fosite.ErrNotFound)
	}
	return req, nil
}

func (s *MemoryStore) DeleteAccessTokenSession(_ context.Context, signature string) error {
	s.Lock()
	defer s.Unlock()
	if req, ok := s.accessTokens[signature]; ok {
		delete(s.accessTokenRequestIDs, req.GetID())
	}
	delete(s.accessTokens, signature)
	return nil
}

func (s *MemoryStore) CreateRefreshTokenSession(_ context.Context, signature string, _ string, requester fosite.Requester) error {
	s.Lock()
	defer s.Unlock()
	s.refreshTokens[signature] = requester
	s.refreshTokenRequestIDs[requester.GetID()] = signature
	return nil
}

func (s *MemoryStore) GetRefreshTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.RLock()
	defer s.RUnlock()
	req, ok := s.refreshTokens[signature]
	if !ok {
		return nil, errorsx.WithStack(fosite.ErrNotFound)
	}
	return req, nil
}

func (s *MemoryStore) DeleteRefreshTokenSession(_ context.Context, signature string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.refreshTokens, signature)
	return nil
}

func (s *MemoryStore) RotateRefreshToken(ctx context.Context, requestID string, _ string) error {
	return s.RevokeRefreshToken(ctx, requestID)
}

func (s *MemoryStore) RevokeRefreshToken(_ context.Context, requestID string) error {
	s.Lock()
	defer s.Unlock()
	if signature, found := s.refreshTokenRequestIDs[requestID]; found {
		delete(s.refreshTokens, signature)
		delete(s.refreshTokenRequestIDs, requestID)
	}
	return nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, requestID string) error {
	s.Lock()
	defer s.Unlock()
	if signature, found := s.accessTokenRequestIDs[requestID]; found {
		delete(s.accessTokens, signature)
		delete(s.accessTokenRequestIDs, requestID)
	}
	return nil
}

// PurgeExpired drops access tokens that expired before now and returns
// how many were removed.
func (s *MemoryStore) PurgeExpired(now time.Time) int {
	s.Lock()
	defer s.Unlock()

	removed := 0
	for signature, req := range s.accessTokens {
		session := req.GetSession()
		if session == nil {
			continue
		}
		exp := session.GetExpiresAt(fosite.AccessToken)
		if exp.IsZero() || exp.After(now) {
			continue
		}
		delete(s.accessTokens, signature)
		delete(s.accessTokenRequestIDs, req.GetID())
		removed++
	}
	return removed
}

// PurgeExpiredClients drops clients whose registration expired before now,
// together with their tokens, and returns how many clients were removed.
func (s *MemoryStore) PurgeExpiredClients(now time.Time) int {
	s.Lock()
	defer s.Unlock()

	removed := 0
	for id, exp := range s.clientExpiry {
		if exp.After(now) {
			continue
		}
		s.removeClient(id)
		removed++
	}
	return removed
}
