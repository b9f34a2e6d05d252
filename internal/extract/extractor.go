// Package extract turns a photographed answer sheet into per-question answer
// text with a confidence estimate.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/gradeflow/internal/cache"
	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/similarity"
)

// Instructions is the transcription request sent with every image
const Instructions = `Transcribe this handwritten answer sheet.
- Keep every question number exactly as written (1., Q1:, Ans 1, 2a), 3(ii) ...)
- Keep the original line breaks
- Include all readable text, including crossed-out answers that were rewritten
- Write ` + llm.IllegibleMarker + ` for each word you cannot read with certainty
- Set confidence lower when large parts of the sheet are unclear`

// Recognizer is the external vision capability
type Recognizer interface {
	ExtractText(ctx context.Context, image llm.Image, instructions string) (string, float64, error)
}

// Config tunes an Extractor
type Config struct {
	MaxImageBytes      int64
	VisionModel        string  // part of the cache key
	DuplicateThreshold float64 // 0 uses DuplicateThreshold
}

// Result is one extracted answer sheet
type Result struct {
	Questions  []model.ExtractedQuestion
	Confidence float64
	Text       string // normalized transcription
	Report     ValidationReport
	Cached     bool
}

// Extractor runs recognition and the local post-processing
type Extractor struct {
	images         ImageStore
	recognizer     Recognizer
	similarity     Similarity
	transcriptions *cache.TranscriptionStore
	config         Config
	logger         *slog.Logger
}

// NewExtractor creates an Extractor. A nil sim scores duplicates by keyword
// overlap; transcriptions may be nil.
func NewExtractor(images ImageStore, recognizer Recognizer, sim Similarity, transcriptions *cache.TranscriptionStore, cfg Config, logger *slog.Logger) *Extractor {
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = DuplicateThreshold
	}
	if transcriptions == nil {
		transcriptions = cache.NewTranscriptionStore(nil, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sim == nil {
		sim = similarity.NewService(nil, logger)
	}
	return &Extractor{
		images:         images,
		recognizer:     recognizer,
		similarity:     sim,
		transcriptions: transcriptions,
		config:         cfg,
		logger:         logger,
	}
}

// Extract reads the image at path and returns its questions. A failure of
// any kind, including a zero confidence, is returned as *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, path string) (*Result, error) {
	fail := func(err error) (*Result, error) {
		return nil, &ExtractionError{ImagePath: path, Err: err}
	}

	if !e.images.Exists(path) {
		return fail(ErrImageNotFound)
	}
	data, err := e.images.ReadImage(path)
	if err != nil {
		return fail(fmt.Errorf("read image: %w", err))
	}
	mimeType, err := DetectImageType(data, e.config.MaxImageBytes)
	if err != nil {
		return fail(err)
	}

	text, raw, cached, err := e.recognize(ctx, data, mimeType)
	if err != nil {
		return fail(err)
	}
	if strings.TrimSpace(text) == "" {
		return fail(ErrNoText)
	}

	confidence := EstimateConfidence(raw, text)
	if confidence == 0 {
		return fail(ErrZeroConfidence)
	}

	normalized := Normalize(text)
	questions := buildQuestions(SegmentText(normalized), confidence)

	pairs, err := MarkDuplicates(ctx, e.similarity, questions, e.config.DuplicateThreshold)
	if err != nil {
		return fail(err)
	}

	report := Validate(questions)
	e.logger.Debug("extracted answer sheet",
		"image", path,
		"questions", len(questions),
		"confidence", confidence,
		"duplicate_pairs", pairs,
		"cached", cached,
		"valid", report.OverallValid,
	)

	return &Result{
		Questions:  questions,
		Confidence: confidence,
		Text:       normalized,
		Report:     report,
		Cached:     cached,
	}, nil
}

func (e *Extractor) recognize(ctx context.Context, data []byte, mimeType string) (string, float64, bool, error) {
	key := cache.ImageKey(data, e.config.VisionModel)
	if t, ok := e.transcriptions.Lookup(key); ok {
		return t.Text, t.RawConfidence, true, nil
	}

	if e.recognizer == nil {
		return "", 0, false, &llm.ErrProviderUnavailable{Err: fmt.Errorf("no vision capability configured")}
	}
	text, raw, err := e.recognizer.ExtractText(ctx, llm.Image{Data: data, MIMEType: mimeType}, Instructions)
	if err != nil {
		return "", 0, false, err
	}

	if strings.TrimSpace(text) != "" {
		if err := e.transcriptions.Store(key, cache.Transcription{
			Text:          text,
			RawConfidence: raw,
			Model:         e.config.VisionModel,
		}); err != nil {
			e.logger.Warn("failed to cache transcription", "error", err)
		}
	}
	return text, raw, false, nil
}

// buildQuestions groups segments by number in order of first appearance.
// A number seen twice contributes a second fragment to the same question.
func buildQuestions(segments []Segment, confidence float64) []model.ExtractedQuestion {
	index := make(map[int]int)
	var questions []model.ExtractedQuestion

	for _, s := range segments {
		i, ok := index[s.Number]
		if !ok {
			i = len(questions)
			index[s.Number] = i
			questions = append(questions, model.ExtractedQuestion{Number: s.Number, Confidence: confidence})
		}
		questions[i].Fragments = append(questions[i].Fragments, model.Fragment{
			Text:       s.Text,
			Confidence: confidence,
			Page:       1,
			Position:   &model.Position{Offset: s.Offset, Length: s.Length},
		})
	}

	for i := range questions {
		texts := make([]string, len(questions[i].Fragments))
		for j, f := range questions[i].Fragments {
			texts[j] = f.Text
		}
		questions[i].RawText = MergeFragments(texts)
		questions[i].IsComplete = len(questions[i].RawText) > 10
	}
	return questions
}
