package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// ExportFormat identifies a report output format
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatPDF  ExportFormat = "pdf"
	FormatCSV  ExportFormat = "csv"
)

// ParseFormat parses a format string
func ParseFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "pdf":
		return FormatPDF, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unsupported export format: %s", s))
	}
}

// RunReport bundles everything an export covers for one run
type RunReport struct {
	Run      *store.TestRunRecord         `json:"run"`
	Steps    []*store.StepResultRecord    `json:"steps"`
	Recovery []*store.RecoveryEventRecord `json:"recovery_events,omitempty"`
}

// RunTotals summarizes step outcomes for the report header
type RunTotals struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ExportResult describes a generated report file
type ExportResult struct {
	ID          uuid.UUID    `json:"id"`
	Format      ExportFormat `json:"format"`
	Filename    string       `json:"filename"`
	Path        string       `json:"path"`
	URL         string       `json:"url"`
	Size        int64        `json:"size"`
	GeneratedAt time.Time    `json:"generated_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Service renders completed runs to JSON, PDF, and CSV files
type Service struct {
	outputDir string
	baseURL   string
	ttl       time.Duration
	logger    *logging.Logger
}

// NewService creates a new report export service
func NewService(cfg *config.ReportConfig) *Service {
	svc := &Service{
		outputDir: "/tmp/intelliqa/reports",
		baseURL:   "http://localhost:8080/exports",
		ttl:       24 * time.Hour,
		logger:    logging.GetLogger(),
	}
	if cfg != nil {
		if cfg.OutputDir != "" {
			svc.outputDir = cfg.OutputDir
		}
		if cfg.BaseURL != "" {
			svc.baseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		if cfg.ExportTTL > 0 {
			svc.ttl = cfg.ExportTTL
		}
	}
	return svc
}

// Export renders the report in the requested format and writes it under the
// configured output directory
func (s *Service) Export(ctx context.Context, report *RunReport, format ExportFormat) (*ExportResult, error) {
	if report == nil || report.Run == nil {
		return nil, errors.NewValidationError("report requires a run record")
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = s.renderJSON(report)
	case FormatPDF:
		data, err = s.renderPDF(report)
	case FormatCSV:
		data, err = s.renderCSV(report)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported export format: %s", format))
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("run_%s_%s.%s",
		sanitizeName(report.Run.TestID),
		time.Now().Format("20060102_150405"),
		format,
	)
	path := filepath.Join(s.outputDir, filename)

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return nil, errors.NewInternalError("failed to create report directory").WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, errors.NewInternalError("failed to write report file").WithCause(err)
	}

	now := time.Now()
	result := &ExportResult{
		ID:          uuid.New(),
		Format:      format,
		Filename:    filename,
		Path:        path,
		URL:         fmt.Sprintf("%s/%s", s.baseURL, filename),
		Size:        int64(len(data)),
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.ttl),
	}

	s.logger.Info("Run report exported",
		"run_id", report.Run.ID.String(),
		"format", string(format),
		"file", filename,
		"size", result.Size,
	)
	return result, nil
}

// Totals reads the step tallies persisted with the run
func (s *Service) Totals(report *RunReport) RunTotals {
	run := report.Run
	return RunTotals{
		Total:   run.TotalSteps,
		Passed:  run.SuccessfulSteps,
		Failed:  run.FailedSteps,
		Skipped: run.SkippedSteps,
	}
}

func (s *Service) renderJSON(report *RunReport) ([]byte, error) {
	info := map[string]interface{}{
		"generated_at": time.Now(),
		"format":       "json",
		"version":      "1.0",
	}
	payload := map[string]interface{}{
		"export_info": info,
		"run":         report.Run,
		"totals":      s.Totals(report),
		"steps":       report.Steps,
	}
	if len(report.Recovery) > 0 {
		payload["recovery_events"] = report.Recovery
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError("failed to encode report").WithCause(err)
	}
	return data, nil
}

func (s *Service) renderPDF(report *RunReport) ([]byte, error) {
	run := report.Run
	totals := s.Totals(report)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Test Run Report")
	pdf.Ln(14)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	summaryLines := []string{
		fmt.Sprintf("Test: %s (%s)", run.Name, run.TestID),
		fmt.Sprintf("Environment: %s", run.Environment),
		fmt.Sprintf("Status: %s", run.Status),
		fmt.Sprintf("Duration: %s", (time.Duration(run.DurationMS) * time.Millisecond).String()),
		fmt.Sprintf("Steps: %d total, %d passed, %d failed, %d skipped",
			totals.Total, totals.Passed, totals.Failed, totals.Skipped),
	}
	if run.CorrelationID != "" {
		summaryLines = append(summaryLines, fmt.Sprintf("Correlation ID: %s", run.CorrelationID))
	}
	if run.FailureReason != "" {
		summaryLines = append(summaryLines, fmt.Sprintf("Failure: %s", run.FailureReason))
	}
	for _, line := range summaryLines {
		pdf.Cell(40, 6, line)
		pdf.Ln(6)
	}
	pdf.Ln(6)

	if len(report.Recovery) > 0 {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 8, "Recovery")
		pdf.Ln(8)

		pdf.SetFont("Arial", "", 10)
		for _, event := range report.Recovery {
			line := fmt.Sprintf("%s (%s): degradation %s", event.FailureType, event.FailureSeverity, event.DegradationLevel)
			if event.RollbackPerformed {
				outcome := "performed"
				if event.RollbackSucceeded != nil && !*event.RollbackSucceeded {
					outcome = "performed with failures"
				}
				line += ", rollback " + outcome
			}
			pdf.Cell(40, 6, line)
			pdf.Ln(6)
		}
		pdf.Ln(6)
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 8, "Steps")
	pdf.Ln(10)

	for i, step := range report.Steps {
		if i > 0 {
			pdf.Ln(4)
		}

		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(40, 6, fmt.Sprintf("%d. %s", step.StepIndex+1, step.StepName))
		pdf.Ln(6)

		pdf.SetFont("Arial", "", 9)
		pdf.Cell(40, 5, fmt.Sprintf("Type: %s | Service: %s | Status: %s | Attempts: %d | Duration: %dms",
			step.StepType, step.ServiceID, step.Status, step.Attempts, step.DurationMS))
		pdf.Ln(5)

		if step.ErrorMessage != "" {
			pdf.MultiCell(0, 4, fmt.Sprintf("Error: %s", step.ErrorMessage), "", "", false)
			pdf.Ln(2)
		}

		if pdf.GetY() > 250 {
			pdf.AddPage()
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.NewInternalError("failed to generate PDF").WithCause(err)
	}
	return buf.Bytes(), nil
}

func (s *Service) renderCSV(report *RunReport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("Step ID,Name,Type,Service,Status,Attempts,Duration (ms),Started At,Completed At,Error\n")
	for _, step := range report.Steps {
		buf.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%d,%d,%s,%s,%s\n",
			escapeCSVField(step.StepID),
			escapeCSVField(step.StepName),
			escapeCSVField(step.StepType),
			escapeCSVField(step.ServiceID),
			step.Status,
			step.Attempts,
			step.DurationMS,
			step.StartedAt.Format("2006-01-02 15:04:05"),
			step.CompletedAt.Format("2006-01-02 15:04:05"),
			escapeCSVField(step.ErrorMessage),
		))
	}

	return buf.Bytes(), nil
}

// escapeCSVField quotes a field containing CSV special characters and
// doubles embedded quotes
func escapeCSVField(field string) string {
	if strings.ContainsAny(field, ",\"\n\r") {
		return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
	}
	return field
}

// sanitizeName keeps a test ID usable as part of a filename
func sanitizeName(name string) string {
	if name == "" {
		return "run"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
