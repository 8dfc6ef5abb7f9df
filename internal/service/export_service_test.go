package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportServiceCourseEvaluationCSV(t *testing.T) {
	evaluations, _, _ := newEvaluationFixture(nil)
	svc := NewExportService(evaluations, nil, nil, nil)

	result, err := svc.CourseEvaluation(context.Background(), practicalCourse.ID, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.True(t, strings.HasPrefix(result.Filename, "evaluation_circuits_lab_"))
	assert.True(t, strings.HasSuffix(result.Filename, ".csv"))

	records, err := csv.NewReader(bytes.NewReader(result.Payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, evaluationHeaders, records[0])
	assert.Equal(t, "Layla Hassan", records[1][0])
	assert.Equal(t, "128.00", records[1][9])
	assert.Equal(t, "Excellent", records[1][10])
	assert.Equal(t, "no", records[1][11])
}

func TestExportServiceCourseEvaluationPDF(t *testing.T) {
	evaluations, _, _ := newEvaluationFixture(nil)
	svc := NewExportService(evaluations, nil, nil, nil)

	result, err := svc.CourseEvaluation(context.Background(), practicalCourse.ID, ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Payload, []byte("%PDF")))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	evaluations, _, _ := newEvaluationFixture(nil)
	svc := NewExportService(evaluations, nil, nil, nil)

	_, err := svc.CourseEvaluation(context.Background(), practicalCourse.ID, "xlsx")
	requireAppError(t, err, "VALIDATION_ERROR", http.StatusBadRequest)

	_, err = svc.CourseEvaluation(context.Background(), "ghost", ExportFormatCSV)
	requireAppError(t, err, "NOT_FOUND", http.StatusNotFound)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "course", sanitizeFilename(""))
	assert.Equal(t, "intro_to_c-c++", sanitizeFilename("Intro to C/C++"))
	assert.Equal(t, "yes", yesNo(true))
	assert.Equal(t, "15.50", formatScore(15.5))
}
