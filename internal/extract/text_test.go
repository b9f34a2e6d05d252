package extract

import (
	"math"
	"strings"
	"testing"

	"github.com/ppiankov/gradeflow/internal/llm"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "a   b\t\tc", "a b c"},
		{"keeps one line break", "line one\n\n\n   line two", "line one\nline two"},
		{"strips symbols", "E = mc^2 @ #light* speed", "E mc2 light speed"},
		{"keeps punctuation", "Yes, it is (mostly) true; see: p-1!", "Yes, it is (mostly) true; see: p-1!"},
		{"crlf", "1. a\r\n2. b", "1. a\n2. b"},
		{"unicode letters", "énergie  cinétique", "énergie cinétique"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeInline(t *testing.T) {
	if got := NormalizeInline("a\nb   c"); got != "a b c" {
		t.Errorf("NormalizeInline = %q", got)
	}
}

func TestDetectQuestionNumbers(t *testing.T) {
	text := "1. first\nQ2: second\nAnswer 3) third\n4a) fourth\n5(ii) fifth"
	matches := DetectQuestionNumbers(text)

	want := []int{1, 2, 3, 4, 5}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %d: %+v", len(want), len(matches), matches)
	}
	for i, m := range matches {
		if m.Number != want[i] {
			t.Errorf("match %d: number = %d, want %d", i, m.Number, want[i])
		}
		if i > 0 && m.Offset <= matches[i-1].Offset {
			t.Errorf("matches not sorted by offset: %+v", matches)
		}
	}
}

func TestSegmentText(t *testing.T) {
	segments := SegmentText("1. Light is energy\n2. Plants use chlorophyll")
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Number != 1 || segments[0].Text != "Light is energy" {
		t.Errorf("segment 0 = %+v", segments[0])
	}
	if segments[1].Number != 2 || segments[1].Text != "Plants use chlorophyll" {
		t.Errorf("segment 1 = %+v", segments[1])
	}
}

func TestSegmentText_NoNumbers(t *testing.T) {
	segments := SegmentText("  an answer without any numbering  ")
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Number != 1 || segments[0].Text != "an answer without any numbering" {
		t.Errorf("segment = %+v", segments[0])
	}
}

func TestSegmentText_EmptyAnswer(t *testing.T) {
	segments := SegmentText("1.\n2. something")
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Text != "" {
		t.Errorf("expected empty first answer, got %q", segments[0].Text)
	}
}

func TestMergeFragments(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"Hello", "world"}, "Hello world"},
		{[]string{"Hello", "", "  world  "}, "Hello world"},
		{[]string{"First part.", "Second"}, "First part.Second"},
		{[]string{"a list", ", continued"}, "a list, continued"},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := MergeFragments(tt.in); got != tt.want {
			t.Errorf("MergeFragments(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInstructions_UseIllegibleMarker(t *testing.T) {
	if !strings.Contains(Instructions, llm.IllegibleMarker) {
		t.Errorf("instructions do not ask for %s", llm.IllegibleMarker)
	}
	if strings.Contains(Instructions, "[brackets]") {
		t.Error("instructions still ask for a second bracket convention")
	}
}

func TestEstimateConfidence(t *testing.T) {
	long := "Photosynthesis converts light energy into chemical energy in plants."

	tests := []struct {
		name string
		raw  float64
		text string
		want float64
	}{
		{"clean long text", 0.9, long, 0.9},
		{"short text", 0.9, "short", 0.72},
		{"three markers", 1.0, long + " [unclear]", 0.7},
		{"floor", 1.0, "[ ] ? unclear illegible", 0.8 * 0.5},
		{"illegible placeholders", 1.0, long + " " + llm.IllegibleMarker + " and " + llm.IllegibleMarker, 0.7},
		{"zero raw", 0, long, 0},
		{"clamped", 1.5, long, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateConfidence(tt.raw, tt.text)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EstimateConfidence(%v, %q) = %v, want %v", tt.raw, tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectImageType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

	mt, err := DetectImageType(png, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mt != "image/png" {
		t.Errorf("expected image/png, got %s", mt)
	}

	if _, err := DetectImageType(nil, 0); err != ErrImageEmpty {
		t.Errorf("expected ErrImageEmpty, got %v", err)
	}
	if _, err := DetectImageType(png, 4); err == nil {
		t.Error("expected size error")
	}
	if _, err := DetectImageType([]byte("plain text, not an image"), 0); err == nil {
		t.Error("expected unsupported format error")
	}
}
