package extract

import (
	"sort"
	"strings"

	"github.com/ppiankov/gradeflow/internal/model"
)

const (
	maxReasonableQuestions = 20
	minContentLength       = 5
	goodConfidence         = 0.5
)

// ValidationReport summarises the quality of one extraction. It is
// informational; nothing in the pipeline blocks on it.
type ValidationReport struct {
	HasQuestions      bool `json:"has_questions"`
	ReasonableCount   bool `json:"reasonable_count"`
	AllHaveContent    bool `json:"all_have_content"`
	NoMajorDuplicates bool `json:"no_major_duplicates"`
	GoodConfidence    bool `json:"good_confidence"`
	SequentialNumbers bool `json:"sequential_numbers"`
	OverallValid      bool `json:"overall_valid"`
}

// Validate builds the report for questions
func Validate(questions []model.ExtractedQuestion) ValidationReport {
	r := ValidationReport{
		HasQuestions:      len(questions) > 0,
		ReasonableCount:   len(questions) >= 1 && len(questions) <= maxReasonableQuestions,
		AllHaveContent:    true,
		NoMajorDuplicates: true,
		GoodConfidence:    true,
	}

	for _, q := range questions {
		if len(strings.TrimSpace(q.RawText)) <= minContentLength {
			r.AllHaveContent = false
		}
		if q.HasDuplicate {
			r.NoMajorDuplicates = false
		}
		if q.Confidence < goodConfidence {
			r.GoodConfidence = false
		}
	}
	r.SequentialNumbers = sequential(questions)

	r.OverallValid = r.HasQuestions && r.ReasonableCount && r.AllHaveContent &&
		r.NoMajorDuplicates && r.GoodConfidence && r.SequentialNumbers
	return r
}

// sequential accepts gaps as long as numbering starts at 1 and at least half
// of the numbers up to the highest one were found.
func sequential(questions []model.ExtractedQuestion) bool {
	if len(questions) == 0 {
		return false
	}
	numbers := make([]int, 0, len(questions))
	for _, q := range questions {
		numbers = append(numbers, q.Number)
	}
	sort.Ints(numbers)
	highest := numbers[len(numbers)-1]
	return numbers[0] == 1 && float64(len(numbers)) >= float64(highest)*0.5
}
