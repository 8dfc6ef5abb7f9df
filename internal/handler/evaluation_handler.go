package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-records-api/internal/middleware"
	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/internal/service"
	"github.com/noah-isme/uni-records-api/pkg/response"
)

type evaluationService interface {
	CourseEvaluation(ctx context.Context, courseID string) (*models.CourseEvaluation, bool, error)
	StudentTranscript(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
}

type exportService interface {
	CourseEvaluation(ctx context.Context, courseID string, format service.ExportFormat) (*service.ExportResult, error)
}

// EvaluationHandler serves the professor evaluation view, its exports and
// student transcripts.
type EvaluationHandler struct {
	evaluations evaluationService
	exports     exportService
}

// NewEvaluationHandler constructs EvaluationHandler.
func NewEvaluationHandler(evaluations evaluationService, exports exportService) *EvaluationHandler {
	return &EvaluationHandler{evaluations: evaluations, exports: exports}
}

// CourseEvaluation godoc
// @Summary Course evaluation view
// @Tags Evaluation
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/evaluation [get]
func (h *EvaluationHandler) CourseEvaluation(c *gin.Context) {
	view, cached, err := h.evaluations.CourseEvaluation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, view, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export course evaluation
// @Tags Evaluation
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Course ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/evaluation/export [get]
func (h *EvaluationHandler) Export(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	result, err := h.exports.CourseEvaluation(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Payload)
}

// StudentEnrollments godoc
// @Summary Student transcript
// @Description Students may only read their own transcript; "me" resolves to the caller.
// @Tags Evaluation
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *EvaluationHandler) StudentEnrollments(c *gin.Context) {
	studentID := c.Param("id")
	if studentID == middleware.SelfAlias {
		if claims := claimsFromContext(c); claims != nil {
			studentID = claims.UserID
		}
	}
	details, err := h.evaluations.StudentTranscript(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, nil)
}
