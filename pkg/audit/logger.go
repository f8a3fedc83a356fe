package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/keystone/pkg/observability"
)

// Recorder persists login activity
type Recorder interface {
	Record(ctx context.Context, activity *Activity) error
}

// NewActivity builds an activity with a fresh id and the code's default message
func NewActivity(username string, code ActivityCode, loginMode, ipAddress string) *Activity {
	return &Activity{
		ID:          uuid.NewString(),
		Username:    username,
		Code:        code,
		Message:     code.Message(),
		LoginMode:   loginMode,
		IPAddress:   ipAddress,
		AttemptedAt: time.Now().UTC(),
	}
}

// Noop discards every activity. Platforms without a login trail use it.
type Noop struct{}

func (Noop) Record(ctx context.Context, activity *Activity) error { return nil }

// LogRecorder writes activity to the structured process log
type LogRecorder struct {
	logger *observability.Logger
}

// NewLogRecorder creates a recorder logging through logger
func NewLogRecorder(logger *observability.Logger) *LogRecorder {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogRecorder{logger: logger}
}

func (l *LogRecorder) Record(ctx context.Context, activity *Activity) error {
	entry := l.logger.WithFields(map[string]any{
		"username":      activity.Username,
		"activity_code": string(activity.Code),
		"login_mode":    activity.LoginMode,
		"ip_address":    activity.IPAddress,
	})
	if activity.Code.IsFailure() {
		entry.Warn("login activity: " + activity.Message)
		return nil
	}
	entry.Info("login activity: " + activity.Message)
	return nil
}

// Multi fans an activity out to several recorders. Every recorder is tried;
// the first error is returned.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, activity *Activity) error {
	var firstErr error
	for _, r := range m {
		if err := r.Record(ctx, activity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
