package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"

	"github.com/optiondesk/optiondesk/app/metrics"
	"github.com/optiondesk/optiondesk/desk"
	"github.com/optiondesk/optiondesk/desk/securities"
	"github.com/optiondesk/optiondesk/mcp"
	"github.com/optiondesk/optiondesk/oauth"
	"github.com/optiondesk/optiondesk/web"
)

// App represents the main application structure
type App struct {
	Config    *Config
	Version   string
	startTime time.Time
	logger    *slog.Logger
	metrics   *metrics.Manager

	desk        *desk.Manager
	oauthStore  *oauth.MemoryStore
	oauth       *web.OAuthHandler
	rateLimiter *web.RateLimiter
	housekeeper *cron.Cron
}

// Config holds the application configuration
type Config struct {
	AppMode            string
	AppPort            string
	AppHost            string
	CatalogPath        string
	KiteInstrumentsCSV string
	CatalogReloadCron  string
	RiskFreeRate       float64
	ExcludedTools      string
	AdminSecretPath    string
	OAuthGlobalSecret  string
	// OAuthRegistrationToken gates POST /register when OAuth is on.
	OAuthRegistrationToken string

	riskFreeRateEnv string
}

// Server mode constants
const (
	ModeSSE    = "sse"
	ModeStdIO  = "stdio"
	ModeHTTP   = "http"
	ModeHybrid = "hybrid"

	DefaultPort    = "8080"
	DefaultHost    = "localhost"
	DefaultAppMode = ModeHTTP

	// housekeepingSchedule purges expired tokens, expired clients and idle
	// rate limiters.
	housekeepingSchedule = "@every 10m"
	limiterIdleTimeout   = time.Hour
)

var ErrInvalidMode = errors.New("invalid APP_MODE")

func NewApp(logger *slog.Logger) *App {
	return &App{
		Config: &Config{
			AppMode:                os.Getenv("APP_MODE"),
			AppPort:                os.Getenv("APP_PORT"),
			AppHost:                os.Getenv("APP_HOST"),
			CatalogPath:            os.Getenv("CATALOG_PATH"),
			KiteInstrumentsCSV:     os.Getenv("KITE_INSTRUMENTS_CSV"),
			CatalogReloadCron:      os.Getenv("CATALOG_RELOAD_CRON"),
			ExcludedTools:          os.Getenv("EXCLUDED_TOOLS"),
			AdminSecretPath:        os.Getenv("ADMIN_ENDPOINT_SECRET_PATH"),
			OAuthGlobalSecret:      os.Getenv("OAUTH_GLOBAL_SECRET"),
			OAuthRegistrationToken: os.Getenv("OAUTH_REGISTRATION_TOKEN"),
			riskFreeRateEnv:        os.Getenv("RISK_FREE_RATE"),
		},
		Version:   "v0.0.0",
		startTime: time.Now(),
		logger:    logger,
		metrics: metrics.New(metrics.Config{
			ServiceName:     metrics.DefaultServiceName,
			AdminSecretPath: os.Getenv("ADMIN_ENDPOINT_SECRET_PATH"),
			AutoCleanup:     true,
		}),
	}
}

func (app *App) SetVersion(version string) {
	app.Version = version
}

func (app *App) LoadConfig() error {
	if app.Config.AppMode == "" {
		app.Config.AppMode = DefaultAppMode
	}
	if app.Config.AppPort == "" {
		app.Config.AppPort = DefaultPort
	}
	if app.Config.AppHost == "" {
		app.Config.AppHost = DefaultHost
	}

	switch app.Config.AppMode {
	case ModeHTTP, ModeSSE, ModeHybrid, ModeStdIO:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMode, app.Config.AppMode)
	}

	app.Config.RiskFreeRate = desk.DefaultRiskFreeRate
	if app.Config.riskFreeRateEnv != "" {
		rate, err := strconv.ParseFloat(app.Config.riskFreeRateEnv, 64)
		if err != nil {
			return fmt.Errorf("invalid RISK_FREE_RATE %q: %w", app.Config.riskFreeRateEnv, err)
		}
		app.Config.RiskFreeRate = rate
	}

	if app.Config.CatalogPath != "" && app.Config.KiteInstrumentsCSV != "" {
		return errors.New("set only one of CATALOG_PATH or KITE_INSTRUMENTS_CSV")
	}
	if app.Config.CatalogReloadCron != "" {
		if _, err := cron.ParseStandard(app.Config.CatalogReloadCron); err != nil {
			return fmt.Errorf("invalid CATALOG_RELOAD_CRON: %w", err)
		}
	}
	if s := app.Config.OAuthGlobalSecret; s != "" {
		if len(s) < oauth.MinSecretLength {
			return fmt.Errorf("OAUTH_GLOBAL_SECRET: %w", oauth.ErrShortSecret)
		}
		if len(app.Config.OAuthRegistrationToken) < oauth.MinSecretLength {
			return fmt.Errorf("OAUTH_REGISTRATION_TOKEN: %w", oauth.ErrShortSecret)
		}
	}
	return nil
}

// CatalogSource picks the catalog source from the configuration. With no
// file configured the catalog holds the sample contract.
func (app *App) CatalogSource() securities.Source {
	switch {
	case strings.EqualFold(filepath.Ext(app.Config.CatalogPath), ".csv"):
		return securities.CSVFileSource{Path: app.Config.CatalogPath}
	case app.Config.CatalogPath != "":
		return securities.YAMLFileSource{Path: app.Config.CatalogPath}
	case app.Config.KiteInstrumentsCSV != "":
		return securities.KiteCSVSource{Path: app.Config.KiteInstrumentsCSV}
	}
	return securities.StaticSource{securities.Sample()}
}

func (app *App) RunServer() error {
	url := app.buildServerURL()
	deskManager, mcpServer, err := app.initializeServices()
	if err != nil {
		return err
	}
	srv := app.createHTTPServer(url)
	app.setupGracefulShutdown(srv, deskManager)
	app.setupReloadSignal(deskManager)
	return app.startServer(srv, mcpServer, url)
}

func (app *App) buildServerURL() string {
	return app.Config.AppHost + ":" + app.Config.AppPort
}

func (app *App) initializeServices() (*desk.Manager, *server.MCPServer, error) {
	source := app.CatalogSource()
	app.logger.Info("Loading securities catalog...", "source", source.Name())
	reload := securities.DefaultReloadConfig()
	reload.Schedule = app.Config.CatalogReloadCron
	catalog, err := securities.New(securities.Config{
		Source:       source,
		ReloadConfig: reload,
		Logger:       app.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	deskManager, err := desk.New(desk.Config{
		Logger:       app.logger,
		Metrics:      app.metrics,
		Securities:   catalog,
		RiskFreeRate: &app.Config.RiskFreeRate,
		Version:      app.Version,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create desk manager: %w", err)
	}
	app.desk = deskManager

	if err := app.initializeOAuth(); err != nil {
		return nil, nil, err
	}

	app.logger.Info("Creating MCP server...")
	mcpServer := server.NewMCPServer("optiondesk", app.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	mcp.RegisterTools(mcpServer, deskManager, app.Config.ExcludedTools, app.logger)

	return deskManager, mcpServer, nil
}

func (app *App) initializeOAuth() error {
	app.rateLimiter = web.NewRateLimiter(web.DefaultRateInterval, web.DefaultRateBurst)
	if app.Config.OAuthGlobalSecret == "" {
		app.logger.Warn("OAUTH_GLOBAL_SECRET is not set; /mcp is served without authentication")
		return nil
	}

	app.logger.Info("Initializing Fosite OAuth2 provider...")
	app.oauthStore = oauth.NewMemoryStore()
	provider, err := oauth.NewFositeProvider(app.oauthStore, []byte(app.Config.OAuthGlobalSecret), oauth.DefaultTokenLifespan)
	if err != nil {
		return fmt.Errorf("failed to create OAuth2 provider: %w", err)
	}
	app.oauth = web.NewOAuthHandler(provider, app.oauthStore, app.Config.OAuthRegistrationToken, app.logger)
	app.oauth.Metrics = app.metrics

	app.housekeeper = cron.New(cron.WithLocation(time.UTC))
	if _, err := app.housekeeper.AddFunc(housekeepingSchedule, app.housekeeping); err != nil {
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}
	app.housekeeper.Start()
	return nil
}

func (app *App) housekeeping() {
	now := time.Now()
	tokens := app.oauthStore.PurgeExpired(now)
	clients := app.oauthStore.PurgeExpiredClients(now)
	limiters := app.rateLimiter.Prune(limiterIdleTimeout)
	app.logger.Debug("Housekeeping complete", "expired_tokens", tokens, "expired_clients", clients, "idle_limiters", limiters, "live_tokens", app.oauthStore.TokenCount())
}

func (app *App) createHTTPServer(url string) *http.Server {
	return &http.Server{
		Addr:              url,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (app *App) setupGracefulShutdown(srv *http.Server, deskManager *desk.Manager) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		defer stop()
		<-ctx.Done()
		app.logger.Info("Shutting down server...")
		deskManager.Shutdown()
		app.metrics.Shutdown()
		if app.housekeeper != nil {
			<-app.housekeeper.Stop().Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("Server shutdown error", "error", err)
		}
		app.logger.Info("Server shutdown complete", "uptime", time.Since(app.startTime).Round(time.Second))
	}()
}

// setupReloadSignal reloads the catalog on SIGHUP.
func (app *App) setupReloadSignal(deskManager *desk.Manager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			app.logger.Info("Received SIGHUP, reloading catalog")
			if err := deskManager.ReloadCatalog(); err != nil {
				app.logger.Error("Catalog reload failed", "error", err)
			}
		}
	}()
}

func (app *App) startServer(srv *http.Server, mcpServer *server.MCPServer, url string) error {
	switch app.Config.AppMode {
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMode, app.Config.AppMode)
	case ModeHybrid, ModeHTTP, ModeSSE:
		return app.startHTTPServer(srv, mcpServer, url)
	case ModeStdIO:
		return app.startStdIOServer(srv, mcpServer)
	}
}

func (app *App) setupMux() *http.ServeMux {
	mux := http.NewServeMux()
	if app.Config.AdminSecretPath != "" {
		mux.HandleFunc("/admin/", app.metrics.AdminHTTPHandler())
	}
	if app.oauth != nil {
		app.oauth.Register(mux, app.rateLimiter)
	}
	web.NewHandler(app.desk, app.logger).Register(mux)
	return mux
}

// protect wraps the MCP endpoint with bearer token checks when OAuth is on.
func (app *App) protect(next http.Handler) http.Handler {
	if app.oauth == nil {
		return next
	}
	return app.oauth.Middleware(next)
}

// mcpHandlers mounts the MCP transports for the configured mode.
func (app *App) mcpHandlers(mux *http.ServeMux, mcpServer *server.MCPServer, url string) {
	mode := app.Config.AppMode

	if mode == ModeHTTP || mode == ModeHybrid {
		streamable := server.NewStreamableHTTPServer(mcpServer,
			server.WithSessionIdManager(app.desk.SessionManager()),
			server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
				return mcp.WithSessionType(ctx, mcp.SessionTypeMCP)
			}),
		)
		mux.Handle("/mcp", app.protect(streamable))
	}

	if mode == ModeSSE || mode == ModeHybrid {
		sse := server.NewSSEServer(mcpServer,
			server.WithBaseURL("http://"+url),
			server.WithKeepAlive(true),
			server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
				return mcp.WithSessionType(ctx, mcp.SessionTypeSSE)
			}),
		)
		mux.Handle("/sse", app.protect(sse))
		mux.Handle("/message", app.protect(sse))
	}
}

func (app *App) serveHTTPServer(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error("HTTP server error", "error", err)
		return err
	}
	return nil
}

func (app *App) startHTTPServer(srv *http.Server, mcpServer *server.MCPServer, url string) error {
	app.logger.Info("Starting MCP server", "mode", app.Config.AppMode, "url", "http://"+url)
	mux := app.setupMux()
	app.mcpHandlers(mux, mcpServer, url)
	srv.Handler = mux
	return app.serveHTTPServer(srv)
}

func (app *App) startStdIOServer(srv *http.Server, mcpServer *server.MCPServer) error {
	app.logger.Info("Starting STDIO MCP server...")
	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(app.logger.Handler(), slog.LevelError))

	srv.Handler = app.setupMux()
	go func() { _ = app.serveHTTPServer(srv) }()

	ctx := mcp.WithSessionType(context.Background(), mcp.SessionTypeStdio)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		app.logger.Error("STDIO server error", "error", err)
		return err
	}
	return nil
}
