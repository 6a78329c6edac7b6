// Alert transport for the validator is optional and pluggable: when no
// endpoint is configured, transport falls back to logging only rather
// than failing. It posts a validate.Report as JSON to a configured
// webhook, or simply logs it.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/validate"
)

// AlertTransport delivers a validation report to an operator-facing
// sink. The zero value logs only.
type AlertTransport struct {
	Endpoint string
	Client   *http.Client
	Log      zerolog.Logger
}

type alertPayload struct {
	Timestamp time.Time         `json:"timestamp"`
	Findings  []validate.Finding `json:"findings"`
	Critical  int               `json:"critical_count"`
	Warning   int               `json:"warning_count"`
}

// Emit posts report to Endpoint if configured; otherwise it logs each
// finding at its severity level and returns nil.
func (a AlertTransport) Emit(ctx context.Context, report *validate.Report) error {
	if report == nil || len(report.Findings) == 0 {
		return nil
	}
	if a.Endpoint == "" {
		for _, f := range report.Findings {
			ev := a.Log.Warn()
			if f.Severity == validate.SeverityCritical {
				ev = a.Log.Error()
			}
			ev.Str("check", f.Check).Str("id", f.ID).Str("tf", f.TF).Str("severity", string(f.Severity)).Msg(f.Message)
		}
		return nil
	}

	counts := report.CountBySeverity()
	payload := alertPayload{
		Timestamp: time.Now(),
		Findings:  report.Findings,
		Critical:  counts[validate.SeverityCritical],
		Warning:   counts[validate.SeverityWarning],
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alert emit: marshal: %w", err)
	}

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert emit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		a.Log.Warn().Err(err).Msg("alert transport unreachable, findings still in report")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		a.Log.Warn().Int("status", resp.StatusCode).Msg("alert transport rejected payload")
	}
	return nil
}
