package extract

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ppiankov/gradeflow/internal/cache"
	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

type memImages map[string][]byte

func (m memImages) Exists(path string) bool {
	_, ok := m[path]
	return ok
}

func (m memImages) ReadImage(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

type fakeRecognizer struct {
	text       string
	confidence float64
	err        error
	calls      int
	lastMIME   string
}

func (f *fakeRecognizer) ExtractText(_ context.Context, image llm.Image, _ string) (string, float64, error) {
	f.calls++
	f.lastMIME = image.MIMEType
	return f.text, f.confidence, f.err
}

func newTestExtractor(rec Recognizer, store *cache.TranscriptionStore) *Extractor {
	images := memImages{"sheet.png": testPNG}
	return NewExtractor(images, rec, nil, store, Config{MaxImageBytes: 1 << 20, VisionModel: "test"}, nil)
}

func TestExtract(t *testing.T) {
	rec := &fakeRecognizer{
		text: "1. Photosynthesis uses light energy to make glucose in plants\n" +
			"2. Mitochondria release energy through respiration",
		confidence: 0.9,
	}
	e := newTestExtractor(rec, nil)

	result, err := e.Extract(context.Background(), "sheet.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.lastMIME != "image/png" {
		t.Errorf("expected image/png to be sent, got %s", rec.lastMIME)
	}
	if result.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", result.Confidence)
	}
	if len(result.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(result.Questions))
	}

	q1 := result.Questions[0]
	if q1.Number != 1 || q1.RawText != "Photosynthesis uses light energy to make glucose in plants" {
		t.Errorf("question 1 = %+v", q1)
	}
	if !q1.IsComplete {
		t.Error("expected question 1 to be complete")
	}
	if q1.Confidence != result.Confidence {
		t.Errorf("question confidence %v != overall %v", q1.Confidence, result.Confidence)
	}
	if len(q1.Fragments) != 1 || q1.Fragments[0].Page != 1 || q1.Fragments[0].Position == nil {
		t.Errorf("unexpected fragments: %+v", q1.Fragments)
	}
	if q1.HasDuplicate || result.Questions[1].HasDuplicate {
		t.Error("distinct answers flagged as duplicates")
	}
	if !result.Report.OverallValid {
		t.Errorf("expected valid report, got %+v", result.Report)
	}
}

func TestExtract_RepeatedNumberMergesFragments(t *testing.T) {
	rec := &fakeRecognizer{
		text:       "1a) Energy cannot be created\n1b) or destroyed, only converted between forms of energy",
		confidence: 0.8,
	}
	e := newTestExtractor(rec, nil)

	result, err := e.Extract(context.Background(), "sheet.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(result.Questions))
	}
	q := result.Questions[0]
	if len(q.Fragments) != 2 {
		t.Errorf("expected 2 fragments, got %d", len(q.Fragments))
	}
	want := "Energy cannot be created or destroyed, only converted between forms of energy"
	if q.RawText != want {
		t.Errorf("RawText = %q, want %q", q.RawText, want)
	}
}

func TestExtract_Duplicates(t *testing.T) {
	rec := &fakeRecognizer{
		text:       "1. plants convert light energy into glucose\n2. plants convert light energy into glucose",
		confidence: 0.9,
	}
	e := newTestExtractor(rec, nil)

	result, err := e.Extract(context.Background(), "sheet.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, q := range result.Questions {
		if !q.HasDuplicate {
			t.Errorf("question %d not flagged as duplicate", q.Number)
		}
	}
	if result.Report.NoMajorDuplicates {
		t.Error("report should show duplicates")
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		rec  *fakeRecognizer
		want error
	}{
		{"missing image", "missing.png", &fakeRecognizer{}, ErrImageNotFound},
		{"no text", "sheet.png", &fakeRecognizer{text: "  ", confidence: 0.9}, ErrNoText},
		{"zero confidence", "sheet.png", &fakeRecognizer{text: "1. some answer text", confidence: 0}, ErrZeroConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtractor(tt.rec, nil)
			_, err := e.Extract(context.Background(), tt.path)

			var extErr *ExtractionError
			if !errors.As(err, &extErr) {
				t.Fatalf("expected *ExtractionError, got %v", err)
			}
			if extErr.ImagePath != tt.path {
				t.Errorf("ImagePath = %s, want %s", extErr.ImagePath, tt.path)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestExtract_TransientFailureIsVisible(t *testing.T) {
	rec := &fakeRecognizer{err: &llm.ErrRateLimit{RetryAfter: time.Second}}
	e := newTestExtractor(rec, nil)

	_, err := e.Extract(context.Background(), "sheet.png")
	if !llm.IsTransient(err) {
		t.Errorf("expected transient error through ExtractionError, got %v", err)
	}
}

func TestExtract_UsesCache(t *testing.T) {
	store := cache.NewTranscriptionStore(cache.NewMemoryCache(time.Minute), 0)
	rec := &fakeRecognizer{text: "1. The heart pumps blood around the body", confidence: 0.9}
	e := newTestExtractor(rec, store)

	first, err := e.Extract(context.Background(), "sheet.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Extract(context.Background(), "sheet.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.calls != 1 {
		t.Errorf("expected 1 recognizer call, got %d", rec.calls)
	}
	if first.Cached || !second.Cached {
		t.Errorf("cached flags = %v, %v", first.Cached, second.Cached)
	}
	if second.Questions[0].RawText != first.Questions[0].RawText {
		t.Error("cached extraction differs")
	}
}

func TestValidate(t *testing.T) {
	questions := []model.ExtractedQuestion{
		{Number: 1, RawText: "a complete answer", Confidence: 0.9},
		{Number: 3, RawText: "another answer", Confidence: 0.9},
	}
	r := Validate(questions)
	if !r.OverallValid {
		t.Errorf("expected valid report, got %+v", r)
	}

	questions = append(questions, model.ExtractedQuestion{Number: 9, RawText: "x", Confidence: 0.2})
	r = Validate(questions)
	if r.AllHaveContent || r.GoodConfidence || r.SequentialNumbers || r.OverallValid {
		t.Errorf("expected failing checks, got %+v", r)
	}

	if r := Validate(nil); r.HasQuestions || r.OverallValid {
		t.Errorf("empty extraction reported valid: %+v", r)
	}
}
