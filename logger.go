package headless

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/headless/internal/driver"
)

// nopHandler is a slog.Handler that discards all records. Enabled returns
// false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for headless and its drivers. By
// default nothing is logged. Pass nil to restore the silent default.
//
// SetLogger is safe for concurrent use. Drivers look the logger up on every
// message, so a new logger also applies to contexts that already exist.
//
// Log levels used by headless:
//   - [slog.LevelDebug]: pipeline and buffer internals, per-submission info
//   - [slog.LevelInfo]: lifecycle (adapter selected, queue families)
//   - [slog.LevelWarn]: warnings and performance advisories
//   - [slog.LevelError]: validation errors and device loss
//
// Example:
//
//	headless.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// logMessage forwards a driver or validation message.
func logMessage(m driver.Message) {
	level := slog.LevelDebug
	switch m.Severity {
	case driver.SeverityError:
		level = slog.LevelError
	case driver.SeverityWarning, driver.SeverityPerformance:
		level = slog.LevelWarn
	}
	Logger().Log(context.Background(), level, m.Text,
		"severity", m.Severity.String(),
		"source", m.Source,
	)
}
