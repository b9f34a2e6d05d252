package model

import (
	"errors"
	"fmt"
)

// Concept is a gradeable idea within a scheme question
type Concept struct {
	Name            string   `json:"concept" yaml:"concept"`                   // Concept title used in the description
	Keywords        []string `json:"keywords" yaml:"keywords"`                 // Terms matched case-insensitively
	Weight          float64  `json:"weight" yaml:"weight"`                     // Relative weight (0-1)
	MarksAllocation float64  `json:"marks_allocation" yaml:"marks_allocation"` // Marks awarded at full understanding
}

// SchemeQuestion is one question of a marking scheme
type SchemeQuestion struct {
	Number   int       `json:"question_number" yaml:"question_number"`
	MaxMarks float64   `json:"max_marks" yaml:"max_marks"`
	Concepts []Concept `json:"concepts" yaml:"concepts"`
}

// MarkingScheme describes how a script is graded
type MarkingScheme struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"scheme_name" yaml:"scheme_name"`
	Subject      string           `json:"subject" yaml:"subject"`
	TotalMarks   float64          `json:"total_marks" yaml:"total_marks"`
	PassingMarks float64          `json:"passing_marks" yaml:"passing_marks"`
	Questions    []SchemeQuestion `json:"questions" yaml:"questions"`
}

// DefaultPassingMarks is applied when a scheme does not set passing marks
const DefaultPassingMarks = 40.0

// Validate checks the scheme shape at the repository boundary
func (s *MarkingScheme) Validate() error {
	var errs []error
	if s.TotalMarks < 0 {
		errs = append(errs, fmt.Errorf("total_marks must be >= 0, got %v", s.TotalMarks))
	}
	if s.PassingMarks < 0 {
		errs = append(errs, fmt.Errorf("passing_marks must be >= 0, got %v", s.PassingMarks))
	}
	seen := make(map[int]bool)
	for _, q := range s.Questions {
		if seen[q.Number] {
			errs = append(errs, fmt.Errorf("duplicate question number %d", q.Number))
		}
		seen[q.Number] = true
		if q.MaxMarks < 0 {
			errs = append(errs, fmt.Errorf("question %d: max_marks must be >= 0", q.Number))
		}
		for _, c := range q.Concepts {
			if c.Name == "" {
				errs = append(errs, fmt.Errorf("question %d: concept without a name", q.Number))
			}
			if c.Weight < 0 || c.Weight > 1 {
				errs = append(errs, fmt.Errorf("question %d concept %q: weight must be in [0,1]", q.Number, c.Name))
			}
			if c.MarksAllocation < 0 {
				errs = append(errs, fmt.Errorf("question %d concept %q: marks_allocation must be >= 0", q.Number, c.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// Question returns the scheme question with the given number
func (s *MarkingScheme) Question(number int) (SchemeQuestion, bool) {
	for _, q := range s.Questions {
		if q.Number == number {
			return q, true
		}
	}
	return SchemeQuestion{}, false
}
