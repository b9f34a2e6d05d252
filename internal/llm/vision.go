package llm

import (
	"context"
	"fmt"
)

// IllegibleMarker stands in for a word the model cannot read. Every
// transcription prompt asks for this exact form.
const IllegibleMarker = "[illegible]"

const visionSystemPrompt = `You transcribe handwritten exam answer sheets.
Return the text exactly as written, keeping question numbers and line breaks.
Write ` + IllegibleMarker + ` for each word you cannot read. Do not correct or complete answers.`

// TranscriptionSchema is the reply shape for handwriting transcription.
var TranscriptionSchema = &Schema{
	Name:        "transcription",
	Description: "Transcribed answer sheet text with a self-reported confidence",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":       map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []string{"text", "confidence"},
	},
}

// Transcription is the decoded vision reply.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// VisionExtractor turns a Provider into the text extraction capability.
type VisionExtractor struct {
	provider Provider
}

// NewVisionExtractor creates a VisionExtractor backed by p.
func NewVisionExtractor(p Provider) *VisionExtractor {
	return &VisionExtractor{provider: p}
}

// ExtractText transcribes one image and returns the text with the model's
// raw confidence.
func (v *VisionExtractor) ExtractText(ctx context.Context, image Image, instructions string) (string, float64, error) {
	if v.provider == nil {
		return "", 0, &ErrProviderUnavailable{Err: fmt.Errorf("no vision provider configured")}
	}

	req := Request{
		System: visionSystemPrompt,
		Prompt: instructions,
		Images: []Image{image},
		Schema: TranscriptionSchema,
	}

	var out Transcription
	if _, err := GenerateJSON(ctx, v.provider, req, &out); err != nil {
		return "", 0, err
	}
	return out.Text, out.Confidence, nil
}
