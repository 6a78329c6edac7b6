// Package validate implements five check families over a sampled
// (id, window) set: gap detection, outliers, cross-table consistency,
// null ratio, and rowcount range drift.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/persistence/sqlite"
)

// Severity classifies a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is one validation result.
type Finding struct {
	Check    string
	ID       string
	TF       string
	Severity Severity
	Message  string
	Examples []string // capped at MaxExamples
}

// MaxExamples bounds how many concrete offending rows a report carries
// per finding, keeping reports readable on wide failures.
const MaxExamples = 5

// ExpectedDate is one calendar date a series should have a bar for,
// derived from dim_timeframe + dim_sessions.
type ExpectedDate func(from, to time.Time) []time.Time

// GapCheck compares the expected date sequence against actual bar
// timestamps and flags any missing dates.
func GapCheck(id, tf string, expected ExpectedDate, actual []persistence.Bar, from, to time.Time) *Finding {
	want := expected(from, to)
	if len(want) == 0 {
		return nil
	}
	have := make(map[string]bool, len(actual))
	for _, b := range actual {
		have[b.Timestamp.Format("2006-01-02")] = true
	}
	var missing []string
	for _, d := range want {
		key := d.Format("2006-01-02")
		if !have[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	examples := missing
	if len(examples) > MaxExamples {
		examples = examples[:MaxExamples]
	}
	return &Finding{
		Check: "gap", ID: id, TF: tf, Severity: SeverityWarning,
		Message:  fmt.Sprintf("%d of %d expected dates missing", len(missing), len(want)),
		Examples: examples,
	}
}

// OutlierThreshold names a feature-specific bound: a value outside
// [Min, Max] is flagged.
type OutlierThreshold struct {
	Feature  string
	Min, Max float64
}

// OutlierCheck scans a named feature's values against its threshold.
func OutlierCheck(id, tf string, threshold OutlierThreshold, timestamps []time.Time, values []float64) *Finding {
	var examples []string
	count := 0
	for i, v := range values {
		if v < threshold.Min || v > threshold.Max {
			count++
			if len(examples) < MaxExamples {
				examples = append(examples, fmt.Sprintf("%s=%.4f at %s", threshold.Feature, v, timestamps[i].Format(time.RFC3339)))
			}
		}
	}
	if count == 0 {
		return nil
	}
	return &Finding{
		Check: "outlier", ID: id, TF: tf, Severity: SeverityWarning,
		Message:  fmt.Sprintf("%s: %d values outside [%.4f, %.4f]", threshold.Feature, count, threshold.Min, threshold.Max),
		Examples: examples,
	}
}

// NullRatioThreshold is the fraction of null feature values that
// triggers a warning.
const NullRatioThreshold = 0.10

// NullRatioCheck flags a feature column whose null fraction exceeds
// NullRatioThreshold.
func NullRatioCheck(id, tf, feature string, total, nullCount int) *Finding {
	if total == 0 {
		return nil
	}
	ratio := float64(nullCount) / float64(total)
	if ratio <= NullRatioThreshold {
		return nil
	}
	return &Finding{
		Check: "null_ratio", ID: id, TF: tf, Severity: SeverityWarning,
		Message: fmt.Sprintf("%s: %.1f%% null (%d/%d)", feature, ratio*100, nullCount, total),
	}
}

// RowcountDriftTolerance is the fraction of expected rowcount drift
// that triggers a warning (+-5%).
const RowcountDriftTolerance = 0.05

// RowcountCheck compares an observed table rowcount against an
// expected baseline (e.g. the prior run's count for the same window).
func RowcountCheck(table string, expected, actual int64) *Finding {
	if expected == 0 {
		return nil
	}
	drift := float64(actual-expected) / float64(expected)
	if drift > -RowcountDriftTolerance && drift < RowcountDriftTolerance {
		return nil
	}
	return &Finding{
		Check: "rowcount", ID: table, Severity: SeverityWarning,
		Message: fmt.Sprintf("%s rowcount drifted %.1f%% (expected %d, got %d)", table, drift*100, expected, actual),
	}
}

// CrossTableChecker runs the sqlite scratch-store consistency checks:
// ret_1d matches the close delta within tolerance, and close values
// agree across tables within tolerance.
type CrossTableChecker struct {
	Store          *sqlite.Store
	Tolerance      float64
	CloseTolerance float64 // close-vs-close bound; zero means DefaultCloseTolerance
}

// DefaultCrossTableTolerance is the default 0.01% bound on ret_1d versus
// the close-derived return.
const DefaultCrossTableTolerance = 0.0001

// DefaultCloseTolerance is the default 0.01 absolute bound on close
// differences across tables.
const DefaultCloseTolerance = 0.01

// Run executes both cross-table consistency checks and returns one
// Finding per violated row family.
func (c CrossTableChecker) Run(ctx context.Context) ([]Finding, error) {
	tol := c.Tolerance
	if tol == 0 {
		tol = DefaultCrossTableTolerance
	}
	closeTol := c.CloseTolerance
	if closeTol == 0 {
		closeTol = DefaultCloseTolerance
	}

	var findings []Finding

	closeMismatches, err := c.Store.CrossTableCloseMismatches(ctx, closeTol)
	if err != nil {
		return nil, fmt.Errorf("cross-table close check: %w", err)
	}
	if len(closeMismatches) > 0 {
		examples := make([]string, 0, MaxExamples)
		for i, m := range closeMismatches {
			if i >= MaxExamples {
				break
			}
			examples = append(examples, fmt.Sprintf("%s/%s@%s: %.6f vs %.6f", m.ID, m.TF, m.Ts.Format(time.RFC3339), m.CloseA, m.CloseB))
		}
		findings = append(findings, Finding{
			Check: "cross_table_close", Severity: SeverityCritical,
			Message:  fmt.Sprintf("%d close mismatches across tables", len(closeMismatches)),
			Examples: examples,
		})
	}

	retMismatches, err := c.Store.ReturnCloseMismatches(ctx, tol)
	if err != nil {
		return nil, fmt.Errorf("return/close consistency check: %w", err)
	}
	if len(retMismatches) > 0 {
		examples := make([]string, 0, MaxExamples)
		for i, m := range retMismatches {
			if i >= MaxExamples {
				break
			}
			examples = append(examples, fmt.Sprintf("%s/%s@%s: ret_1d=%.6f implied=%.6f", m.ID, m.TF, m.Ts.Format(time.RFC3339), m.Ret1D, m.DerivedRet1D))
		}
		findings = append(findings, Finding{
			Check: "return_close_consistency", Severity: SeverityCritical,
			Message:  fmt.Sprintf("%d ret_1d/close inconsistencies", len(retMismatches)),
			Examples: examples,
		})
	}

	return findings, nil
}
