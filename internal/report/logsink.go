package report

import "log/slog"

// LogSink writes lifecycle events to a structured logger. Step output is
// logged at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"run_id", ev.RunID}
	if ev.Job != "" {
		attrs = append(attrs, "job", ev.Job)
	}
	if ev.Step != "" {
		attrs = append(attrs, "step", ev.Step)
	}
	if ev.Status != "" {
		attrs = append(attrs, "status", ev.Status)
	}
	if ev.Detail != "" {
		attrs = append(attrs, "detail", ev.Detail)
	}

	switch ev.Type {
	case EventStepOutput:
		logger.Debug(ev.Line, append(attrs, "stream", ev.Stream)...)
	case EventStepStarted, EventStepFinished:
		logger.Debug(string(ev.Type), attrs...)
	case EventJobFinished, EventPipelineFinished:
		if ev.Status == StatusFailed {
			logger.Warn(string(ev.Type), attrs...)
			return
		}
		logger.Info(string(ev.Type), attrs...)
	default:
		logger.Info(string(ev.Type), attrs...)
	}
}
