// Package oauth issues and checks OAuth2 client-credentials tokens for the
// MCP endpoint.
package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
	"github.com/ory/fosite/handler/oauth2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinSecretLength is the shortest global secret accepted by the HMAC strategy.
	MinSecretLength = 32

	DefaultTokenLifespan = time.Hour

	// GrantClientCredentials is the only grant type offered.
	GrantClientCredentials = "client_credentials"
)

// ErrShortSecret is returned when the global secret is too short to sign tokens.
var ErrShortSecret = fmt.Errorf("oauth global secret must be at least %d bytes", MinSecretLength)

// FositeStore defines the methods our storage needs to implement.
type FositeStore interface {
	fosite.ClientManager
	oauth2.CoreStorage
	oauth2.TokenRevocationStorage
}

// NewFositeProvider creates a provider that supports the client-credentials
// grant, token introspection and token revocation.
func NewFositeProvider(store FositeStore, secret []byte, lifespan time.Duration) (fosite.OAuth2Provider, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if lifespan <= 0 {
		lifespan = DefaultTokenLifespan
	}

	config := &fosite.Config{
		AccessTokenLifespan:        lifespan,
		GlobalSecret:               secret,
		TokenEndpointHandlers:      fosite.TokenEndpointHandlers{},
		TokenIntrospectionHandlers: fosite.TokenIntrospectionHandlers{},
		RevocationHandlers:         fosite.RevocationHandlers{},
	}

	// HMAC-SHA256 tokens are opaque; only this process can validate them.
	strategy := &compose.CommonStrategy{
		CoreStrategy: compose.NewOAuth2HMACStrategy(config),
	}

	return compose.Compose(
		config,
		store,
		strategy,
		compose.OAuth2ClientCredentialsGrantFactory,
		compose.OAuth2TokenIntrospectionFactory,
		compose.OAuth2TokenRevocationFactory,
	), nil
}

// HashSecret hashes a client secret using bcrypt.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// NewClient creates a confidential client-credentials client. The returned
// secret is the only copy of the plain text; the client keeps its hash.
func NewClient(scopes ...string) (*fosite.DefaultClient, string, error) {
	id, err := randomHex(12)
	if err != nil {
		return nil, "", err
	}
	plain, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}
	secret := "secret-" + plain

	hashed, err := HashSecret(secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	return &fosite.DefaultClient{
		ID:         "client-" + id,
		Secret:     hashed,
		GrantTypes: fosite.Arguments{GrantClientCredentials},
		Scopes:     fosite.Arguments(scopes),
	}, secret, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(errors.New("failed to read random bytes"), err)
	}
	return hex.EncodeToString(b), nil
}
