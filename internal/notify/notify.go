// Package notify records and fans out user notifications.
package notify

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rsclarke/dnsmon/internal/db"
	"github.com/rsclarke/dnsmon/internal/logging"
	"github.com/rsclarke/dnsmon/internal/models"
	"go.uber.org/zap"
)

// Sink receives notifications.
type Sink interface {
	Recoverable(key, text string)
	Fatal(key, text string)
}

var messages = map[string]string{
	models.KeyNoInternet:          "The daemon could not reach its resolvers. Check the network connection.",
	models.KeyFatalError:          "The daemon hit a fatal error and was stopped.",
	models.KeyStoppedUnexpectedly: "The daemon stopped unexpectedly.",
}

// Message returns the user-facing text for a notification key.
func Message(key string) string {
	if m, ok := messages[key]; ok {
		return m
	}
	return key
}

// Recorder persists notifications in the database.
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(d *sql.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: d, logger: logger, now: time.Now}
}

// Recoverable records a recoverable notification.
func (r *Recorder) Recoverable(key, text string) {
	r.record(key, models.SeverityRecoverable, text)
}

// Fatal records a fatal notification.
func (r *Recorder) Fatal(key, text string) {
	r.record(key, models.SeverityFatal, text)
}

func (r *Recorder) record(key string, severity models.Severity, text string) {
	n := models.Notification{
		ID:        uuid.NewString(),
		Key:       key,
		Severity:  severity,
		Text:      text,
		CreatedAt: r.now().Unix(),
	}
	if err := db.CreateNotification(r.db, n); err != nil {
		r.logger.Warn("failed to record notification", logging.Key(key), zap.Error(err))
		return
	}
	r.logger.Info("notification recorded",
		zap.String("id", n.ID),
		logging.Key(key),
		zap.String("severity", string(severity)),
	)
}

// Multi delivers every notification to each sink in order.
type Multi []Sink

// Recoverable implements Sink.
func (m Multi) Recoverable(key, text string) {
	for _, s := range m {
		s.Recoverable(key, text)
	}
}

// Fatal implements Sink.
func (m Multi) Fatal(key, text string) {
	for _, s := range m {
		s.Fatal(key, text)
	}
}
