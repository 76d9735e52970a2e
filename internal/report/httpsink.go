package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"resty.dev/v3"
)

// CommitStatus is the body posted to a status endpoint, shaped after the
// commit status APIs of git hosts.
type CommitStatus struct {
	State       string `json:"state"`
	Description string `json:"description"`
	Context     string `json:"context"`
	RunID       string `json:"run_id"`
	Commit      string `json:"commit,omitempty"`
}

// HTTPSink publishes job and pipeline outcomes to a status URL. Delivery is
// best effort: failures are logged and never affect the run.
type HTTPSink struct {
	URL     string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger

	client *resty.Client
}

// NewHTTPSink creates a sink posting to url.
func NewHTTPSink(url, token string, logger *slog.Logger) *HTTPSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPSink{URL: url, Token: token, Timeout: 10 * time.Second, Logger: logger}
	s.client = resty.New().
		SetTimeout(s.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "localci")
	if token != "" {
		s.client.SetAuthToken(token)
	}
	return s
}

// Close releases the underlying HTTP client.
func (s *HTTPSink) Close() error {
	return s.client.Close()
}

func (s *HTTPSink) Emit(ev Event) {
	status, ok := statusFor(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(status).
		Post(s.URL)
	if err != nil {
		s.Logger.Warn("status post failed", "run_id", ev.RunID, "context", status.Context, "error", err)
		return
	}
	if resp.IsError() {
		s.Logger.Warn("status post rejected", "run_id", ev.RunID, "context", status.Context, "status_code", resp.StatusCode())
	}
}

func statusFor(ev Event) (CommitStatus, bool) {
	cs := CommitStatus{RunID: ev.RunID, Commit: ev.Commit}
	if cs.Commit == "" && ev.PipelineResult != nil {
		cs.Commit = ev.PipelineResult.Event.Commit
	}
	switch ev.Type {
	case EventPipelineStarted, EventPipelineFinished:
		cs.Context = "localci/" + ev.Workflow
	case EventJobStarted, EventJobFinished:
		cs.Context = fmt.Sprintf("localci/%s/%s", ev.Workflow, ev.Job)
	default:
		return CommitStatus{}, false
	}
	cs.State = StateFor(ev.Status)
	cs.Description = describe(ev.Status, ev.Detail)
	return cs, true
}

// StateFor maps an outcome status onto a commit status state.
func StateFor(s Status) string {
	switch s {
	case StatusSucceeded:
		return "success"
	case StatusFailed:
		return "failure"
	case StatusSkipped:
		return "error"
	default:
		return "pending"
	}
}

func describe(s Status, detail string) string {
	if detail == "" {
		return s.String()
	}
	return fmt.Sprintf("%s: %s", s, detail)
}
