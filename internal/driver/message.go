package driver

import "fmt"

// Severity classifies a diagnostic message.
type Severity uint8

// Message severities, most severe first.
const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityPerformance
	SeverityInfo
)

var severityNames = [...]string{
	SeverityError:       "error",
	SeverityWarning:     "warning",
	SeverityPerformance: "performance",
	SeverityInfo:        "info",
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "unknown"
}

// Message is a diagnostic emitted by a driver or the validation layer.
type Message struct {
	Severity Severity
	Source   string
	Text     string
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.Severity, m.Source, m.Text)
}

// Reporter receives diagnostic messages. It must be safe for concurrent use.
type Reporter func(Message)

// Report delivers a message if r is non-nil.
func (r Reporter) Report(sev Severity, source, format string, args ...any) {
	if r == nil {
		return
	}
	r(Message{Severity: sev, Source: source, Text: fmt.Sprintf(format, args...)})
}
