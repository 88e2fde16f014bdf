package changeset

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one block of the audit log.
type Entry struct {
	Action   string
	Kind     string
	Ref      string
	Distance float64
	Lines    []string
}

// Addf appends a detail line.
func (e *Entry) Addf(format string, args ...any) {
	e.Lines = append(e.Lines, fmt.Sprintf(format, args...))
}

// AuditLog is the human-readable, append-only record of a run.
type AuditLog struct {
	w     *bufio.Writer
	runID string
	err   error
}

// NewAuditLog starts a run section in w. The run id ties the log to the
// snapshot and the metrics of the same run.
func NewAuditLog(w io.Writer, generator string, started time.Time) *AuditLog {
	l := &AuditLog{w: bufio.NewWriter(w), runID: uuid.NewString()}
	l.printf("\n\n*** RUN %s %s %s\n", l.runID, generator, started.UTC().Format(time.RFC3339))
	return l
}

// RunID returns the id written in the run header.
func (l *AuditLog) RunID() string {
	return l.runID
}

func (l *AuditLog) printf(format string, args ...any) {
	if l.err != nil {
		return
	}
	_, l.err = fmt.Fprintf(l.w, format, args...)
}

// Section starts a region block.
func (l *AuditLog) Section(title string) {
	l.printf("\n\n*** %s\n", title)
}

// Write records one entry.
func (l *AuditLog) Write(e Entry) {
	if e.Ref != "" {
		l.printf("\n\n%s: %s #%s\n", strings.ToUpper(e.Action), e.Kind, e.Ref)
	} else {
		l.printf("\n\n%s: %s\n", strings.ToUpper(e.Action), e.Kind)
	}
	if e.Distance > 0 {
		l.printf("  Moved %.1f meters\n", e.Distance)
	}
	for _, line := range e.Lines {
		l.printf("  %s\n", line)
	}
}

// Flush writes buffered entries and returns the first error seen.
func (l *AuditLog) Flush() error {
	if l.err != nil {
		return l.err
	}
	return l.w.Flush()
}
