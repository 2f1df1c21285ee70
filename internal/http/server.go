// Package http exposes the JSON API: authentication, the replace-all data
// endpoints, and the read-only analytics views.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"billfold/internal/cache"
	"billfold/internal/log"
	"billfold/internal/middleware/ratelimit"
	"billfold/internal/middleware/security"
	"billfold/internal/middleware/trace"
	"billfold/internal/services"
	"billfold/internal/store"
)

// Server wires the router, per-user coordinators, and the analytics cache.
type Server struct {
	http.Server

	users     UserStore
	jwtSecret []byte

	sessions   *sessionRegistry
	limiter    *ratelimit.Limiter
	structured *log.StructuredLogger

	// summaryCache holds computed analytics summaries. Keys carry a per-user
	// version so mutations invalidate without scanning.
	summaryCache *cache.LRUCache[summaryResponse]
	cacheManager *cache.Manager
	versionMu    sync.Mutex
	versions     map[string]uint64

	shutdownOnce sync.Once
}

// Config for the API server.
type Config struct {
	Addr      string
	JWTSecret string
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, st store.Store, users UserStore, events services.ChangePublisher) *Server {
	s := &Server{
		users:        users,
		jwtSecret:    []byte(cfg.JWTSecret),
		limiter:      ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		summaryCache: cache.NewLRUCache[summaryResponse](256, 5*time.Minute),
		cacheManager: cache.NewManager(),
		versions:     make(map[string]uint64),
	}
	s.sessions = newSessionRegistry(st, events)
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(time.Minute)

	httpLogger := log.New(log.Config{Component: log.ComponentHTTP})
	s.structured = log.NewStructuredLogger(httpLogger)

	tracer := trace.NewMiddleware(clientIP)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	r := chi.NewRouter()
	r.Use(tracer.Middleware)
	r.Use(headers.Middleware)
	r.Use(log.Middleware(httpLogger))
	r.Use(s.limiter.Middleware(clientIP, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ready"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth, requireOwnership)

			r.Post("/logout", s.handleLogout)

			r.Get("/user/{username}", s.handleGetUser)
			r.Get("/user/{username}/data", s.handleGetUserData)
			r.Post("/user/{username}/resync", s.handleResync)
			r.Get("/user/{username}/expenses", s.handleListExpenses)
			r.Post("/user/{username}/categories", s.handleAddCategory)
			r.Patch("/user/{username}/categories", s.handleUpdateCategoryBudget)

			r.Post("/expenses", s.handleAddExpense)
			r.Post("/expenses/bulk", s.handleReplaceExpenses)
			r.Delete("/expenses/{id}", s.handleDeleteExpense)
			r.Post("/categories", s.handleReplaceCategories)
			r.Get("/categories/{username}", s.handleGetCategories)
			r.Post("/budget", s.handleSetBudget)
			r.Get("/budget/{username}", s.handleGetBudget)

			r.Get("/analytics/{username}/summary", s.handleAnalyticsSummary)
			r.Get("/analytics/{username}/trend", s.handleAnalyticsTrend)
			r.Get("/analytics/{username}/forecast", s.handleAnalyticsForecast)
			r.Get("/analytics/{username}/breakdown", s.handleAnalyticsBreakdown)
			r.Get("/export/{username}.csv", s.handleExportCSV)
		})
	})

	s.Server = http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Shutdown stops the HTTP server and background cleanup goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		s.cacheManager.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// bumpVersion invalidates all cached summaries for a user.
func (s *Server) bumpVersion(username string) {
	s.versionMu.Lock()
	s.versions[username]++
	s.versionMu.Unlock()
}

func (s *Server) summaryKey(username, query string) string {
	s.versionMu.Lock()
	v := s.versions[username]
	s.versionMu.Unlock()
	return fmt.Sprintf("%s|%d|%s", username, v, query)
}

// sessionRegistry hands out one coordinator per user. The coordinator owns
// the working copy; handlers never touch the store directly for user data.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session
	store    store.Store
	events   services.ChangePublisher
}

// session gates access to a coordinator behind its initial load. The ready
// channel closes once the load settles; waiters must check err before using
// the coordinator.
type session struct {
	coord *services.Coordinator
	ready chan struct{}
	err   error
}

func newSessionRegistry(st store.Store, events services.ChangePublisher) *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string]*session),
		store:    st,
		events:   events,
	}
}

func (r *sessionRegistry) get(ctx context.Context, username string) (*services.Coordinator, error) {
	r.mu.Lock()
	sess, ok := r.sessions[username]
	if !ok {
		sess = &session{
			coord: services.NewCoordinator(username, r.store, r.events, services.DefaultCoordinatorConfig()),
			ready: make(chan struct{}),
		}
		r.sessions[username] = sess
	}
	r.mu.Unlock()

	if !ok {
		sess.err = sess.coord.Load(ctx)
		if sess.err != nil {
			// drop the entry before releasing waiters so everyone sees the
			// same failed load and the next request starts fresh
			r.mu.Lock()
			delete(r.sessions, username)
			r.mu.Unlock()
		}
		close(sess.ready)
	} else {
		select {
		case <-sess.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if sess.err != nil {
		return nil, sess.err
	}
	return sess.coord, nil
}
