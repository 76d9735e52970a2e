// Package server exposes the engine over HTTP: a webhook endpoint that turns
// source-control events into pipeline runs, and a status API for those runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bgricker/localci/internal/ctxlog"
	"github.com/bgricker/localci/internal/engine"
	"github.com/bgricker/localci/internal/provider"
	"github.com/bgricker/localci/internal/report"
	"github.com/bgricker/localci/internal/trigger"
)

// Options configure a Server.
type Options struct {
	Engine    engine.Options
	Workflows []provider.Workflow
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string

	// RetainRuns caps the finished runs kept for GET /runs; 0 means
	// DefaultRetainRuns.
	RetainRuns int
}

// DefaultRetainRuns is how many finished runs a server keeps.
const DefaultRetainRuns = 100

// Server accepts events and runs the workflows they trigger.
type Server struct {
	router    chi.Router
	engine    *engine.Engine
	workflows []provider.Workflow
	runs      *store
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// EventRequest is the body of POST /events.
type EventRequest struct {
	Kind   string `json:"kind"`
	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"`
}

// RunRef identifies a run started by an event.
type RunRef struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
}

// EventResponse is the reply to POST /events.
type EventResponse struct {
	Triggered  bool     `json:"triggered"`
	Runs       []RunRef `json:"runs,omitempty"`
	Superseded []string `json:"superseded,omitempty"`
}

// RunSummary is one entry of GET /runs.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Workflow string        `json:"workflow"`
	Event    trigger.Event `json:"event"`
	Status   report.Status `json:"status"`
	Detail   string        `json:"detail,omitempty"`
}

// New validates the workflows and builds the HTTP handler.
func New(opts Options) (*Server, error) {
	if len(opts.Workflows) == 0 {
		return nil, errors.New("server: no workflows to serve")
	}
	if err := engine.Validate(opts.Workflows); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Server{
		workflows: opts.Workflows,
		runs:      newStore(opts.RetainRuns),
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	engOpts := opts.Engine
	engOpts.Sink = report.Multi(engOpts.Sink, s.runs)
	if engOpts.Now == nil {
		engOpts.Now = opts.Now
	}
	s.engine = engine.New(engOpts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Get("/healthz", s.handleHealth)
	r.Post("/events", s.handleEvent)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Delete("/{id}", s.handleCancelRun)
	})
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until run id finishes or ctx is done.
func (s *Server) Wait(ctx context.Context, id string) (report.PipelineResult, error) {
	e := s.runs.wait(id)
	if e == nil {
		return report.PipelineResult{}, fmt.Errorf("run %q not found", id)
	}
	select {
	case <-e.done:
		return s.runs.resultOf(e), nil
	case <-ctx.Done():
		return report.PipelineResult{}, ctx.Err()
	}
}

// Shutdown cancels every running pipeline and waits for them to settle.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, done := range s.runs.cancelAll() {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /events -> start every workflow the event triggers
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid event body", http.StatusBadRequest)
		return
	}
	kind, err := trigger.ParseKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Branch == "" {
		http.Error(w, "branch is required", http.StatusBadRequest)
		return
	}
	ev := trigger.Event{Kind: kind, Branch: req.Branch, Commit: req.Commit}

	var resp EventResponse
	for _, wf := range s.workflows {
		if !trigger.MatchWorkflow(ev, wf) {
			continue
		}
		if kind == trigger.Push {
			resp.Superseded = append(resp.Superseded, s.runs.supersede(wf.Path, ev.Branch)...)
		}
		resp.Runs = append(resp.Runs, RunRef{RunID: s.start(wf, ev), Workflow: wf.Name})
	}
	if len(resp.Runs) == 0 {
		s.logger.Info("event triggered no workflow", "event", ev.String())
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Triggered = true
	writeJSON(w, http.StatusAccepted, resp)
}

// start launches wf in the background and returns its run id.
func (s *Server) start(wf provider.Workflow, ev trigger.Event) string {
	id := s.newID()
	logger := s.logger.With("run_id", id, "workflow", wf.Name)
	ctx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))
	s.runs.add(id, wf.Path, wf.Name, ev, s.now(), cancel)

	go func() {
		defer cancel()
		res, err := s.engine.RunWithID(ctx, id, wf, ev)
		if err != nil {
			logger.Error("pipeline failed to start", "error", err)
			_ = res.Skip(err.Error())
		}
		s.runs.complete(id, res)
	}()
	logger.Info("pipeline queued", "event", ev.String())
	return id
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.list()
	out := make([]RunSummary, 0, len(runs))
	for _, res := range runs {
		out = append(out, RunSummary{
			RunID:    res.RunID,
			Workflow: res.Workflow,
			Event:    res.Event,
			Status:   res.Status,
			Detail:   res.Detail,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DELETE /runs/{id}
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found, running := s.runs.cancel(id)
	switch {
	case !found:
		http.Error(w, "run not found", http.StatusNotFound)
	case !running:
		http.Error(w, "run already finished", http.StatusConflict)
	default:
		s.logger.Info("pipeline cancel requested", "run_id", id)
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", s.now().Sub(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
