// Package grading turns raw component scores into a total and a letter grade.
package grading

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/noah-isme/uni-records-api/internal/models"
)

// Component names a graded component of an enrollment.
type Component string

// Grade components recognised by the weight table.
const (
	ComponentAssignment1 Component = "assignment1"
	ComponentAssignment2 Component = "assignment2"
	ComponentCoursework  Component = "coursework"
	ComponentFinalExam   Component = "final_exam"
	ComponentExperience  Component = "experience"
)

// MaxLabelLength bounds letter labels to the width of the stored letter_grade column.
const MaxLabelLength = 32

// Components lists every component in display order.
var Components = []Component{
	ComponentAssignment1,
	ComponentAssignment2,
	ComponentCoursework,
	ComponentFinalExam,
	ComponentExperience,
}

// Weights maps a component to its multiplier. Missing components do not count.
type Weights map[Component]float64

// Band is a letter scale entry: ratios at or above LowerBound earn Label.
type Band struct {
	LowerBound float64
	Label      string
}

// Result is the outcome of applying the policy to one enrollment.
type Result struct {
	TotalGrade   float64
	LetterGrade  string
	RafaaApplied bool
}

// Policy is the configured weight table and letter scale.
type Policy struct {
	weights   map[models.CourseType]Weights
	bands     []Band
	failLabel string
}

// NewPolicy validates the table and returns a ready policy. Bands may be given
// in any order; they are evaluated highest bound first.
func NewPolicy(weights map[models.CourseType]Weights, bands []Band, failLabel string) (*Policy, error) {
	for _, courseType := range []models.CourseType{models.CourseTypeTheoretical, models.CourseTypePractical} {
		table, ok := weights[courseType]
		if !ok {
			return nil, fmt.Errorf("grading: no weights for course type %s", courseType)
		}
		for component, weight := range table {
			if !knownComponent(component) {
				return nil, fmt.Errorf("grading: unknown component %q for %s", component, courseType)
			}
			if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
				return nil, fmt.Errorf("grading: invalid weight %v for %s/%s", weight, courseType, component)
			}
		}
	}
	if strings.TrimSpace(failLabel) == "" {
		return nil, fmt.Errorf("grading: fail label required")
	}
	if utf8.RuneCountInString(failLabel) > MaxLabelLength {
		return nil, fmt.Errorf("grading: fail label longer than %d characters", MaxLabelLength)
	}

	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LowerBound > sorted[j].LowerBound })
	for i, band := range sorted {
		if band.LowerBound < 0 || band.LowerBound > 1 || math.IsNaN(band.LowerBound) {
			return nil, fmt.Errorf("grading: band %q bound %v outside [0,1]", band.Label, band.LowerBound)
		}
		if strings.TrimSpace(band.Label) == "" {
			return nil, fmt.Errorf("grading: band at %v has no label", band.LowerBound)
		}
		if utf8.RuneCountInString(band.Label) > MaxLabelLength {
			return nil, fmt.Errorf("grading: band %q longer than %d characters", band.Label, MaxLabelLength)
		}
		if i > 0 && sorted[i-1].LowerBound == band.LowerBound {
			return nil, fmt.Errorf("grading: duplicate band bound %v", band.LowerBound)
		}
	}

	copied := make(map[models.CourseType]Weights, len(weights))
	for courseType, table := range weights {
		inner := make(Weights, len(table))
		for component, weight := range table {
			inner[component] = weight
		}
		copied[courseType] = inner
	}
	return &Policy{weights: copied, bands: sorted, failLabel: failLabel}, nil
}

// DefaultWeights counts every component at face value, excluding experience
// for theoretical courses.
func DefaultWeights() map[models.CourseType]Weights {
	return map[models.CourseType]Weights{
		models.CourseTypeTheoretical: {
			ComponentAssignment1: 1,
			ComponentAssignment2: 1,
			ComponentCoursework:  1,
			ComponentFinalExam:   1,
		},
		models.CourseTypePractical: {
			ComponentAssignment1: 1,
			ComponentAssignment2: 1,
			ComponentCoursework:  1,
			ComponentFinalExam:   1,
			ComponentExperience:  1,
		},
	}
}

// Compute applies the policy. It never fails: unknown course types and
// non-positive scales simply earn zero and the fail label respectively.
func (p *Policy) Compute(scores models.GradeComponents, courseType models.CourseType, maxGrade int, rafaa bool) Result {
	table := p.weights[courseType]
	total := 0.0
	for _, component := range Components {
		weight, ok := table[component]
		if !ok {
			continue
		}
		total += weight * Score(scores, component)
	}
	total = round(total)
	return Result{TotalGrade: total, LetterGrade: p.Letter(total, maxGrade), RafaaApplied: rafaa}
}

// Letter maps a total against the max grade scale onto the letter bands.
func (p *Policy) Letter(total float64, maxGrade int) string {
	ratio := 0.0
	if maxGrade > 0 {
		ratio = total / float64(maxGrade)
	}
	for _, band := range p.bands {
		if ratio >= band.LowerBound {
			return band.Label
		}
	}
	return p.failLabel
}

// Includes reports whether the component counts for the course type.
func (p *Policy) Includes(courseType models.CourseType, component Component) bool {
	_, ok := p.weights[courseType][component]
	return ok
}

// Bands returns the letter scale, highest bound first.
func (p *Policy) Bands() []Band {
	out := make([]Band, len(p.bands))
	copy(out, p.bands)
	return out
}

// Score reads one component from the score set.
func Score(scores models.GradeComponents, component Component) float64 {
	switch component {
	case ComponentAssignment1:
		return scores.Assignment1
	case ComponentAssignment2:
		return scores.Assignment2
	case ComponentCoursework:
		return scores.Coursework
	case ComponentFinalExam:
		return scores.FinalExam
	case ComponentExperience:
		return scores.Experience
	default:
		return 0
	}
}

func knownComponent(component Component) bool {
	for _, c := range Components {
		if c == component {
			return true
		}
	}
	return false
}

func round(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
