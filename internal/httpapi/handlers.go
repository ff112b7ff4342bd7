package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/auth"
	"schedulers.app/internal/entity"
	"schedulers.app/internal/mutation"
	"schedulers.app/internal/obs"
	"schedulers.app/internal/stream"
)

const serviceName = "schedulers-api"

// ReadyProbe checks that the database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ScheduleReader serves the read-only listings of the admin console.
type ScheduleReader interface {
	ListGames(ctx context.Context, limit int) ([]entity.Game, error)
	ListOfficials(ctx context.Context) ([]entity.Official, error)
	DashboardStats(ctx context.Context, today time.Time) (entity.DashboardStats, error)
}

// Options carries the collaborators and limits of the HTTP layer.
type Options struct {
	Version  string
	Ready    readinessChecker
	Auth     *auth.Service
	Cookies  *auth.CookieCodec
	Engine   *mutation.Engine
	Reader   ScheduleReader
	Recorder *audit.Recorder
	Feed     *stream.Feed
	Logger   *slog.Logger
	Now      func() time.Time

	CookieName   string
	CookieSecure bool
	TrustProxy   bool
	MaxBodyBytes int64
	RatePerSec   float64
	RateBurst    int
	LoginPerSec  float64
	LoginBurst   int
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	ready    readinessChecker
	version  string
	auth     *auth.Service
	cookies  *auth.CookieCodec
	engine   *mutation.Engine
	reader   ScheduleReader
	recorder *audit.Recorder
	feed     *stream.Feed
	logger   *slog.Logger
	now      func() time.Time

	heartbeat time.Duration

	cookieName   string
	cookieSecure bool
	trustProxy   bool
	maxBodyBytes int64
	ratePerSec   float64
	rateBurst    int
	loginLimit   *ipLimiter
}

// New wires the routes. Auth, Cookies and Engine are required.
func New(opts Options) (*API, error) {
	if opts.Auth == nil || opts.Cookies == nil || opts.Engine == nil {
		return nil, errors.New("httpapi: auth service, cookie codec and mutation engine are required")
	}
	a := &API{
		mux:          http.NewServeMux(),
		ready:        opts.Ready,
		version:      opts.Version,
		auth:         opts.Auth,
		cookies:      opts.Cookies,
		engine:       opts.Engine,
		reader:       opts.Reader,
		recorder:     opts.Recorder,
		feed:         opts.Feed,
		heartbeat:    streamHeartbeat,
		logger:       opts.Logger,
		now:          opts.Now,
		cookieName:   opts.CookieName,
		cookieSecure: opts.CookieSecure,
		trustProxy:   opts.TrustProxy,
		maxBodyBytes: opts.MaxBodyBytes,
		ratePerSec:   opts.RatePerSec,
		rateBurst:    opts.RateBurst,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.cookieName == "" {
		a.cookieName = "schedulers_session"
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if opts.LoginPerSec > 0 {
		a.loginLimit = newIPLimiter(opts.LoginPerSec, opts.LoginBurst)
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// session lifecycle
	a.mux.Handle("POST /v1/auth/login", a.limitLogin(http.HandlerFunc(a.handleLogin)))
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.Handle("GET /v1/auth/me", a.withSession(http.HandlerFunc(a.handleMe)))

	// administration
	a.mux.Handle("POST /v1/principals", a.withSession(http.HandlerFunc(a.handleCreatePrincipal)))
	a.mux.Handle("PATCH /v1/{collection}/{id}", a.withSession(http.HandlerFunc(a.handleMutate)))
	a.mux.Handle("GET /v1/games", a.withSession(http.HandlerFunc(a.handleListGames)))
	a.mux.Handle("GET /v1/officials", a.withSession(http.HandlerFunc(a.handleListOfficials)))
	a.mux.Handle("GET /v1/dashboard", a.withSession(http.HandlerFunc(a.handleDashboard)))
	a.mux.Handle("GET /v1/activity/stream", a.withSession(http.HandlerFunc(a.handleActivityStream)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a, nil
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = obs.Instrument(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = Origin(h, a.trustProxy)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not_ready",
			"database": "unreachable",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"database": "connected",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
