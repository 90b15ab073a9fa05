package plunge

import (
	"context"

	"github.com/deepnoodle-ai/plunge/log"
)

// ProgressSink receives human-readable progress messages as chains and
// workflows move through their steps. Implementations typically append to
// a conversation or notification log. Sink failures are reported to the
// caller but must be treated as non-fatal.
type ProgressSink interface {
	Append(ctx context.Context, projectID, sessionID, message string) error
}

// NullProgressSink discards all messages.
type NullProgressSink struct{}

func NewNullProgressSink() *NullProgressSink { return &NullProgressSink{} }

func (s *NullProgressSink) Append(ctx context.Context, projectID, sessionID, message string) error {
	return nil
}

// LogProgressSink writes progress messages to a structured logger.
type LogProgressSink struct {
	logger log.Logger
}

func NewLogProgressSink(logger log.Logger) *LogProgressSink {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &LogProgressSink{logger: logger}
}

func (s *LogProgressSink) Append(ctx context.Context, projectID, sessionID, message string) error {
	s.logger.Info(message, "project_id", projectID, "session_id", sessionID)
	return nil
}
