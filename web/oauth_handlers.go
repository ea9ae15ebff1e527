package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ory/fosite"

	"github.com/optiondesk/optiondesk/app/metrics"
	"github.com/optiondesk/optiondesk/oauth"
)

// ScopeMCP is granted to every registered client.
const ScopeMCP = "mcp"

type clientIDKey struct{}

// ClientIDFromContext returns the OAuth client that authenticated the request.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// OAuthHandler encapsulates all OAuth2 HTTP handlers and their dependencies.
type OAuthHandler struct {
	Provider fosite.OAuth2Provider
	Store    *oauth.MemoryStore
	Logger   *slog.Logger

	// RegistrationToken is the initial access token that /register
	// requests must present as a bearer token.
	RegistrationToken string
	// ClientLifespan is how long a registered client stays valid.
	ClientLifespan time.Duration
	// Metrics counts issued tokens and registrations when set.
	Metrics *metrics.Manager
}

// NewOAuthHandler creates a new handler for all OAuth-related endpoints.
func NewOAuthHandler(provider fosite.OAuth2Provider, store *oauth.MemoryStore, registrationToken string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		Provider:          provider,
		Store:             store,
		Logger:            logger,
		RegistrationToken: registrationToken,
		ClientLifespan:    oauth.DefaultClientLifespan,
	}
}

// Register adds the OAuth routes to mux. Registration and token requests
// go through limiter.
func (h *OAuthHandler) Register(mux *http.ServeMux, limiter *RateLimiter) {
	mux.Handle("POST /register", limiter.Middleware(http.HandlerFunc(h.RegisterClient)))
	mux.Handle("POST /token", limiter.Middleware(http.HandlerFunc(h.Token)))
	mux.HandleFunc("POST /revoke", h.Revoke)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.Discovery)
}

// Token is the handler for the /token endpoint.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accessRequest, err := h.Provider.NewAccessRequest(ctx, r, &fosite.DefaultSession{})
	if err != nil {
		h.Logger.Warn("Rejected token request", "error", err)
		h.Provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	for _, scope := range accessRequest.GetRequestedScopes() {
		accessRequest.GrantScope(scope)
	}

	accessResponse, err := h.Provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		h.Logger.Error("Failed to issue access token", "client_id", accessRequest.GetClient().GetID(), "error", err)
		h.Provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}
	h.Logger.Info("Issued access token", "client_id", accessRequest.GetClient().GetID())
	if h.Metrics != nil {
		h.Metrics.Increment("oauth_tokens_issued")
	}
	h.Provider.WriteAccessResponse(ctx, w, accessRequest, accessResponse)
}

// Revoke is the handler for the /revoke endpoint.
func (h *OAuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.Provider.NewRevocationRequest(ctx, r)
	h.Provider.WriteRevocationResponse(ctx, w, err)
}

// authorizedToRegister checks the bearer token of a registration request
// against RegistrationToken. An empty RegistrationToken admits nobody.
func (h *OAuthHandler) authorizedToRegister(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" || h.RegistrationToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.RegistrationToken)) == 1
}

// RegisterClient is the handler for the /register endpoint.
func (h *OAuthHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedToRegister(r) {
		h.Logger.Warn("Rejected client registration", "remote_addr", r.RemoteAddr)
		if h.Metrics != nil {
			h.Metrics.Increment("oauth_registrations_rejected")
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="optiondesk", error="invalid_token"`)
		http.Error(w, "Unauthorized: registration requires an initial access token", http.StatusUnauthorized)
		return
	}

	var registrationRequest struct {
		ClientName string `json:"client_name"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&registrationRequest); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	client, secret, err := oauth.NewClient(ScopeMCP)
	if err != nil {
		h.Logger.Error("Failed to create client", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	issuedAt := time.Now()
	expiresAt := issuedAt.Add(h.ClientLifespan)
	if err := h.Store.AddClient(client, expiresAt); err != nil {
		if errors.Is(err, oauth.ErrTooManyClients) {
			h.Logger.Warn("Client limit reached", "clients", h.Store.ClientCount())
			http.Error(w, "Too many registered clients", http.StatusServiceUnavailable)
			return
		}
		h.Logger.Error("Failed to store client", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.Logger.Info("Registered new client", "client_id", client.ID, "client_name", registrationRequest.ClientName)
	if h.Metrics != nil {
		h.Metrics.IncrementDaily("oauth_client_registrations")
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                client.GetID(),
		"client_secret":            secret,
		"grant_types":              client.GetGrantTypes(),
		"scope":                    ScopeMCP,
		"client_name":              registrationRequest.ClientName,
		"client_id_issued_at":      issuedAt.Unix(),
		"client_secret_expires_at": expiresAt.Unix(),
	})
}

// Discovery is the handler for the /.well-known/oauth-authorization-server endpoint.
func (h *OAuthHandler) Discovery(w http.ResponseWriter, r *http.Request) {
	issuer := "http://" + r.Host
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"token_endpoint":                        issuer + "/token",
		"registration_endpoint":                 issuer + "/register",
		"revocation_endpoint":                   issuer + "/revoke",
		"scopes_supported":                      []string{ScopeMCP},
		"grant_types_supported":                 []string{oauth.GrantClientCredentials},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
	})
}

// Middleware rejects requests without a valid bearer token and puts the
// client ID on the request context.
func (h *OAuthHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := fosite.AccessTokenFromRequest(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="optiondesk"`)
			http.Error(w, "Unauthorized: No access token provided", http.StatusUnauthorized)
			return
		}

		_, ar, err := h.Provider.IntrospectToken(ctx, token, fosite.AccessToken, &fosite.DefaultSession{})
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="optiondesk", error="invalid_token"`)
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx = context.WithValue(ctx, clientIDKey{}, ar.GetClient().GetID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
