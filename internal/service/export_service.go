package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-records-api/internal/models"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
	"github.com/noah-isme/uni-records-api/pkg/export"
)

// ExportFormat selects the rendered document type.
type ExportFormat string

// Supported export formats.
const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	if f == ExportFormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

type courseEvaluator interface {
	CourseEvaluation(ctx context.Context, courseID string) (*models.CourseEvaluation, bool, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult is a rendered document ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders evaluation views as downloadable documents.
type ExportService struct {
	evaluations courseEvaluator
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(evaluations courseEvaluator, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{evaluations: evaluations, csv: csv, pdf: pdf, logger: logger}
}

var evaluationHeaders = []string{
	"Student", "Code", "Section", "Status",
	"Assignment 1", "Assignment 2", "Coursework", "Final Exam", "Experience",
	"Total", "Letter", "Rafaa", "Present", "Absent", "Late", "Excused",
}

// CourseEvaluation renders the evaluation view of a course.
func (s *ExportService) CourseEvaluation(ctx context.Context, courseID string, format ExportFormat) (*ExportResult, error) {
	format = ExportFormat(strings.ToLower(string(format)))
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	view, _, err := s.evaluations.CourseEvaluation(ctx, courseID)
	if err != nil {
		return nil, err
	}
	dataset := evaluationDataset(view)

	var payload []byte
	switch format {
	case ExportFormatPDF:
		title := fmt.Sprintf("%s evaluation (max %d)", view.Course.Name, view.Course.MaxGrade)
		payload, err = s.pdf.Render(dataset, title)
	default:
		payload, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportResult{
		Filename:    buildExportFilename(view.Course.Name, format),
		ContentType: format.ContentType(),
		Payload:     payload,
	}, nil
}

func evaluationDataset(view *models.CourseEvaluation) export.Dataset {
	rows := make([]map[string]string, 0, len(view.Enrollments))
	for _, e := range view.Enrollments {
		rows = append(rows, map[string]string{
			"Student":      e.StudentName,
			"Code":         e.StudentCode,
			"Section":      e.StudentSection,
			"Status":       string(e.Status),
			"Assignment 1": formatScore(e.Assignment1),
			"Assignment 2": formatScore(e.Assignment2),
			"Coursework":   formatScore(e.Coursework),
			"Final Exam":   formatScore(e.FinalExam),
			"Experience":   formatScore(e.Experience),
			"Total":        formatScore(e.TotalGrade),
			"Letter":       e.LetterGrade,
			"Rafaa":        yesNo(e.IsRafaaApplied),
			"Present":      fmt.Sprintf("%d", e.Attendance.Present),
			"Absent":       fmt.Sprintf("%d", e.Attendance.Absent),
			"Late":         fmt.Sprintf("%d", e.Attendance.Late),
			"Excused":      fmt.Sprintf("%d", e.Attendance.Excused),
		})
	}
	return export.Dataset{Headers: evaluationHeaders, Rows: rows}
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func buildExportFilename(courseName string, format ExportFormat) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("evaluation_%s_%s.%s", sanitizeFilename(courseName), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "course"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "\"", "")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
