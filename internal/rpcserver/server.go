// Package rpcserver implements the HTTP side of the binary RPC contract:
// one POST /exec/<action> route per registered action, dispatched through
// net/http.ServeMux's Go 1.22+ method-pattern routing the way the
// teacher's control-plane handlers register routes.
package rpcserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/reactiverpc/internal/auth"
	"github.com/oriys/reactiverpc/internal/logging"
	"github.com/oriys/reactiverpc/internal/metrics"
	"github.com/oriys/reactiverpc/internal/rpcenvelope"
	"github.com/oriys/reactiverpc/internal/rpcschema"
)

const maxRequestBodyBytes = 16 << 20 // 16MB

// ActionHandler implements one RPC action. user is nil for unauthenticated
// calls that passed the authRequired check (i.e. authRequired was false).
type ActionHandler func(ctx context.Context, input map[string]any, user *auth.User) (any, error)

type action struct {
	schema       rpcschema.Schema
	authRequired bool
	handler      ActionHandler
}

// Server routes POST /exec/<action> requests to registered handlers, plus
// GET /metrics and GET /metrics/prom.
type Server struct {
	resolver auth.Resolver
	metrics  *metrics.Metrics
	prom     *metrics.PrometheusBridge

	mu      sync.RWMutex
	actions map[string]*action

	getMetrics GetMetrics
	mux        *http.ServeMux
}

// New creates a Server. resolver may be nil if no action requires auth.
func New(resolver auth.Resolver) *Server {
	s := &Server{
		resolver: resolver,
		metrics:  metrics.New(),
		prom:     metrics.NewPrometheusBridge(),
		actions:  make(map[string]*action),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /exec/{action...}", s.handleExec)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /metrics/prom", s.handleMetricsProm)
	return s
}

// Metrics returns the server's exec-call counters, for wiring into a
// caller-supplied GetMetrics() snapshot that adds its own gauges.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// SetGetMetrics installs a caller-supplied gauge source. Its entries are
// merged into the built-in exec-call snapshot before every /metrics and
// /metrics/prom response; a name collision with a built-in metric is
// resolved in the caller's favor.
func (s *Server) SetGetMetrics(fn GetMetrics) { s.getMetrics = fn }

func (s *Server) snapshot() map[string]float64 {
	snap := s.metrics.Snapshot()
	if s.getMetrics == nil {
		return snap
	}
	for k, v := range s.getMetrics() {
		snap[k] = v
	}
	return snap
}

// Register adds an action handler. It panics on a duplicate registration,
// the same way route-table builders in the teacher's codebase treat a
// duplicate route as a programming error rather than a runtime condition.
func (s *Server) Register(name string, schema rpcschema.Schema, authRequired bool, handler ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[name]; exists {
		panic("rpcserver: action already registered: " + name)
	}
	s.actions[name] = &action{schema: schema, authRequired: authRequired, handler: handler}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := r.PathValue("action")

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	entry := &logging.RequestLog{RequestID: requestID, Action: name}
	defer func() {
		entry.DurationMs = time.Since(start).Milliseconds()
		logging.Default().Log(entry)
	}()

	s.mu.RLock()
	act, ok := s.actions[name]
	s.mu.RUnlock()
	if !ok {
		notFound := rpcenvelope.NewNotFound()
		entry.Status, entry.Error = notFound.Status(), notFound.Error()
		writeError(w, notFound)
		return
	}

	if r.Header.Get("Content-Type") != rpcenvelope.ContentType {
		badType := rpcenvelope.NewRequestInvalidTypeHeader()
		entry.Status, entry.Error = badType.Status(), badType.Error()
		writeError(w, badType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	r.Body.Close()
	entry.InputSize = len(body)
	if err != nil {
		badBody := rpcenvelope.NewRequestInvalidBody(err)
		entry.Status, entry.Error = badBody.Status(), badBody.Error()
		writeError(w, badBody)
		return
	}

	input, err := rpcenvelope.DecodeMap(body)
	if err != nil {
		badBody := rpcenvelope.NewRequestInvalidBody(err)
		entry.Status, entry.Error = badBody.Status(), badBody.Error()
		writeError(w, badBody)
		return
	}

	user, err := s.resolveUser(r)
	if err != nil {
		logging.Op().Error("resolve user", "action", name, "err", err)
		internalErr := rpcenvelope.NewInternalServerError()
		entry.Status, entry.Error = internalErr.Status(), err.Error()
		writeError(w, internalErr)
		return
	}
	entry.Authed = user != nil
	if act.authRequired && user == nil {
		authErr := rpcenvelope.NewAuthenticationRequired()
		entry.Status, entry.Error = authErr.Status(), authErr.Error()
		writeError(w, authErr)
		return
	}

	if issues := rpcschema.Validate(act.schema, input); len(issues) > 0 {
		validationErr := rpcenvelope.NewValidationFailed(issues, input)
		entry.Status, entry.Error = validationErr.Status(), validationErr.Error()
		writeError(w, validationErr)
		return
	}

	defer func() {
		if p := recover(); p != nil {
			s.metrics.RecordExec(name, time.Since(start).Milliseconds(), false)
			logging.Op().Error("action handler panic", "action", name, "panic", p)
			internalErr := rpcenvelope.NewInternalServerError()
			entry.Status, entry.Error = internalErr.Status(), fmt.Sprint(p)
			writeError(w, internalErr)
		}
	}()
	result, err := act.handler(r.Context(), input, user)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		s.metrics.RecordExec(name, durationMs, false)
		if handled, ok := err.(rpcenvelope.Error); ok {
			entry.Status, entry.Error = handled.Status(), handled.Error()
			writeError(w, handled)
			return
		}
		logging.Op().Error("action handler error", "action", name, "err", err)
		internalErr := rpcenvelope.NewInternalServerError()
		entry.Status, entry.Error = internalErr.Status(), err.Error()
		writeError(w, internalErr)
		return
	}

	s.metrics.RecordExec(name, durationMs, true)
	entry.Status, entry.Success = http.StatusOK, true
	writeOK(w, result)
}

func (s *Server) resolveUser(r *http.Request) (*auth.User, error) {
	if s.resolver == nil {
		return nil, nil
	}
	token, ok := auth.ParseBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, nil
	}
	return s.resolver.ResolveUser(r.Context(), token)
}

// GetMetrics is supplied by the caller to extend the server's own
// exec-call counters with application-specific gauges, per the spec's
// "caller-supplied GetMetrics() map[string]float64" contract.
type GetMetrics func() map[string]float64

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	text, err := metrics.RenderExpositionText(s.snapshot())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(text))
}

func (s *Server) handleMetricsProm(w http.ResponseWriter, r *http.Request) {
	s.prom.Update(s.snapshot())
	s.prom.Handler().ServeHTTP(w, r)
}

func writeOK(w http.ResponseWriter, payload any) {
	body, err := rpcenvelope.Encode(rpcenvelope.Body{Payload: payload})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", rpcenvelope.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeError(w http.ResponseWriter, err rpcenvelope.Error) {
	body := rpcenvelope.Body{Error: err.Error(), Code: err.Code()}
	switch e := err.(type) {
	case *rpcenvelope.ValidationFailedError:
		body.Errors, body.Input = e.Issues, e.Input
	case *rpcenvelope.HandledError:
		body.Payload = e.Payload
	}

	data, encErr := rpcenvelope.Encode(body)
	if encErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", rpcenvelope.ContentType)
	w.WriteHeader(err.Status())
	w.Write(data)
}
