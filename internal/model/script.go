package model

import "time"

// ScriptStatus is the durable processing status of an answer script
type ScriptStatus string

const (
	ScriptPending    ScriptStatus = "pending"
	ScriptProcessing ScriptStatus = "processing"
	ScriptCompleted  ScriptStatus = "completed"
	ScriptFailed     ScriptStatus = "failed"
)

// Fragment is one extracted chunk of a question's answer text
type Fragment struct {
	Text       string    `json:"fragment_text"`
	Confidence float64   `json:"confidence"`
	Page       int       `json:"page_number,omitempty"`
	Position   *Position `json:"position,omitempty"`
}

// Position locates a fragment inside the normalized page text
type Position struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// ExtractedQuestion is the recovered answer to one question
type ExtractedQuestion struct {
	Number       int        `json:"question_number"`
	RawText      string     `json:"raw_text"`
	Fragments    []Fragment `json:"fragments"`
	IsComplete   bool       `json:"is_complete"`
	HasDuplicate bool       `json:"has_duplicates"`
	Confidence   float64    `json:"confidence"`
}

// Session groups the scripts graded against one scheme
type Session struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	SchemeID       string    `json:"scheme_id" yaml:"scheme_id"`
	ProcessedCount int       `json:"processed_count" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
}

// Script is one photographed answer sheet
type Script struct {
	ID                   string              `json:"id" yaml:"id"`
	SessionID            string              `json:"session_id" yaml:"session_id"`
	StudentName          string              `json:"student_name" yaml:"student_name"`
	StudentID            string              `json:"student_id" yaml:"student_id"`
	ImagePath            string              `json:"image_path" yaml:"image_path"`
	Status               ScriptStatus        `json:"status" yaml:"-"`
	Questions            []ExtractedQuestion `json:"questions_extracted,omitempty" yaml:"-"`
	ExtractionConfidence float64             `json:"ocr_confidence" yaml:"-"`
	Errors               []string            `json:"processing_errors,omitempty" yaml:"-"`
	CreatedAt            time.Time           `json:"created_at" yaml:"-"`
	ProcessedAt          *time.Time          `json:"processed_at,omitempty" yaml:"-"`
}
