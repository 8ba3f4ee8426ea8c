package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/cliprdr/metrics"
)

// SessionReport is the structured JSON report written by --report.
type SessionReport struct {
	SessionID  string        `json:"session_id"`
	Role       string        `json:"role"`
	Peer       string        `json:"peer,omitempty"`
	Outcome    OutcomeStatus `json:"outcome"`
	Message    string        `json:"message"`
	ExitCode   int           `json:"exit_code"`
	DurationMs int64         `json:"duration_ms"`

	Transfers *ReportTransfers  `json:"transfers"`
	Metrics   *metrics.Snapshot `json:"metrics"`
}

// ReportTransfers holds file transfer counts in the report.
type ReportTransfers struct {
	FilesReceived int   `json:"files_received"`
	FilesFailed   int   `json:"files_failed"`
	BytesReceived int64 `json:"bytes_received"`
	BytesServed   int64 `json:"bytes_served"`
}

// BuildSessionReport composes a SessionReport from a result and metrics snapshot.
func BuildSessionReport(result *SessionResult, snap metrics.Snapshot) *SessionReport {
	report := &SessionReport{
		Outcome:    result.Outcome.Status,
		Message:    result.Outcome.Message,
		ExitCode:   result.Outcome.ExitCode(),
		DurationMs: result.Duration.Milliseconds(),
		Transfers: &ReportTransfers{
			FilesReceived: result.FilesReceived,
			FilesFailed:   result.FilesFailed,
			BytesReceived: snap.BytesReceived,
			BytesServed:   snap.BytesServed,
		},
		Metrics: &snap,
	}
	if meta := result.Meta; meta != nil {
		report.SessionID = meta.SessionID
		report.Role = string(meta.Role)
		if meta.Peer != nil {
			report.Peer = *meta.Peer
		}
	}
	return report
}

// WriteSessionReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteSessionReport(report *SessionReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeSessionReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeSessionReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

func writeSessionReportTo(report *SessionReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
