// Package health serves liveness, readiness and per-component health.
//
// Checks are either required or advisory. A failing required check fails
// /ready; a failing advisory check only marks /health degraded, since the
// pipeline can keep trading on stale sensors at reduced confidence.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/mev-arbitrage/internal/logger"
)

const (
	checkTimeout      = 2 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Overall states reported by /health.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// CheckFunc reports whether a component is healthy, with an optional reason.
type CheckFunc func(ctx context.Context) (bool, string)

// Result is one check's outcome.
type Result struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Advisory bool   `json:"advisory,omitempty"`
	TookMs   int64  `json:"took_ms"`
}

// Report is the /health body.
type Report struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	At      time.Time         `json:"at"`
	Checks  map[string]Result `json:"checks"`
}

type check struct {
	fn       CheckFunc
	advisory bool
}

// Server exposes /live, /ready and /health.
type Server struct {
	version string
	logger  logger.LoggerInterface
	srv     *http.Server

	mu     sync.RWMutex
	checks map[string]check
}

// NewServer creates a server bound to port once started.
func NewServer(port int, version string, log logger.LoggerInterface) *Server {
	s := &Server{version: version, logger: log, checks: make(map[string]check)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "alive")
	})
	mux.HandleFunc("GET /ready", s.ready)
	mux.HandleFunc("GET /health", s.health)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// RegisterCheck adds a required check, replacing any with the same name.
func (s *Server) RegisterCheck(name string, fn CheckFunc) {
	s.register(name, check{fn: fn})
}

// RegisterAdvisory adds a check that can degrade /health but never /ready.
func (s *Server) RegisterAdvisory(name string, fn CheckFunc) {
	s.register(name, check{fn: fn, advisory: true})
}

func (s *Server) register(name string, c check) {
	s.mu.Lock()
	s.checks[name] = c
	s.mu.Unlock()
}

// Handler is the mux behind the server.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start listens in the background.
func (s *Server) Start(ctx context.Context) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "health server failed", "addr", s.srv.Addr, "error", err)
		}
	}()
	s.logger.Info(ctx, "health server started", "addr", s.srv.Addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Run executes every check concurrently, each bounded by checkTimeout, and
// returns the results with the overall status.
func (s *Server) Run(ctx context.Context) (map[string]Result, string) {
	s.mu.RLock()
	checks := make(map[string]check, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.RUnlock()

	var mu sync.Mutex
	out := make(map[string]Result, len(checks))
	var g errgroup.Group
	for name, c := range checks {
		g.Go(func() error {
			res := runOne(ctx, c)
			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusOK
	for _, r := range out {
		switch {
		case r.Healthy:
		case r.Advisory:
			if status == StatusOK {
				status = StatusDegraded
			}
		default:
			status = StatusDown
		}
	}
	return out, status
}

// runOne gives up on a check that outlives its deadline and reports it
// unhealthy; the check goroutine finishes on its own.
func runOne(ctx context.Context, c check) Result {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	type verdict struct {
		ok  bool
		msg string
	}
	start := time.Now()
	done := make(chan verdict, 1)
	go func() {
		ok, msg := c.fn(ctx)
		done <- verdict{ok, msg}
	}()

	res := Result{Advisory: c.advisory}
	select {
	case v := <-done:
		res.Healthy, res.Message = v.ok, v.msg
	case <-ctx.Done():
		res.Message = "timed out"
	}
	res.TookMs = time.Since(start).Milliseconds()
	return res
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	checks, status := s.Run(r.Context())
	rep := Report{Status: status, Version: s.version, At: time.Now().UTC(), Checks: checks}

	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	code := http.StatusOK
	if status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if _, status := s.Run(r.Context()); status == StatusDown {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

// MaxAge fails when age has nothing yet or reports something older than limit.
func MaxAge(age func() (time.Duration, bool), limit time.Duration) CheckFunc {
	return func(context.Context) (bool, string) {
		a, ok := age()
		switch {
		case !ok:
			return false, "no data yet"
		case a > limit:
			return false, fmt.Sprintf("last update %s ago, limit %s", a.Round(time.Millisecond), limit)
		}
		return true, ""
	}
}

// Not fails with msg while bad reports true.
func Not(bad func() bool, msg string) CheckFunc {
	return func(context.Context) (bool, string) {
		if bad() {
			return false, msg
		}
		return true, ""
	}
}
