package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-records-api/pkg/jobs"
)

// JobTypeRecomputeCourse recomputes every enrollment of the course in the payload.
const JobTypeRecomputeCourse = "recompute_course"

type courseRecomputer interface {
	RecomputeCourse(ctx context.Context, courseID string) (int, error)
}

type jobQueue interface {
	Register(jobType string, handler jobs.Handler)
	Enqueue(job jobs.Job) error
}

// RecomputeScheduler queues course-wide grade recomputation after course
// metadata that feeds the policy has changed.
type RecomputeScheduler struct {
	queue       jobQueue
	enrollments courseRecomputer
	logger      *zap.Logger
}

// NewRecomputeScheduler registers the recompute handler on the queue.
func NewRecomputeScheduler(queue jobQueue, enrollments courseRecomputer, logger *zap.Logger) *RecomputeScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RecomputeScheduler{queue: queue, enrollments: enrollments, logger: logger}
	queue.Register(JobTypeRecomputeCourse, s.handle)
	return s
}

// ScheduleCourseRecompute enqueues a recompute of the course.
func (s *RecomputeScheduler) ScheduleCourseRecompute(courseID string) error {
	return s.queue.Enqueue(jobs.Job{Type: JobTypeRecomputeCourse, Payload: courseID})
}

func (s *RecomputeScheduler) handle(ctx context.Context, job jobs.Job) error {
	courseID, ok := job.Payload.(string)
	if !ok || courseID == "" {
		return fmt.Errorf("recompute job %s: invalid payload %v", job.ID, job.Payload)
	}
	updated, err := s.enrollments.RecomputeCourse(ctx, courseID)
	if err != nil {
		return err
	}
	s.logger.Info("course grades recomputed", zap.String("course_id", courseID), zap.Int("updated", updated), zap.Int("attempt", job.Attempt))
	return nil
}
