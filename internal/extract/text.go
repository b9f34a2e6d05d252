package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	disallowedChars = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:()\-]`)
	lineBreakRuns   = regexp.MustCompile(`\s*\n\s*`)
	horizontalRuns  = regexp.MustCompile(`[^\S\n]+`)
)

// Normalize strips everything except letters, digits, underscore, whitespace
// and . , ! ? ; : ( ) -, collapses runs of line breaks to one newline and
// runs of other whitespace to one space. Line breaks are kept so question
// numbers at the start of a line can still be found.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = disallowedChars.ReplaceAllString(text, "")
	text = lineBreakRuns.ReplaceAllString(text, "\n")
	text = horizontalRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// NormalizeInline is Normalize with every whitespace run, newlines included,
// reduced to one space.
func NormalizeInline(text string) string {
	return strings.Join(strings.Fields(Normalize(text)), " ")
}

// Question number patterns, in priority order. Matching is case-insensitive
// and line-anchored.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)(?:^|\n)\s*(\d+)\s*[\.\)]\s*`),                   // 1. 1)
	regexp.MustCompile(`(?im)(?:^|\n)\s*q(?:uestion)?\s*(\d+)\s*[\:\.\)]\s*`), // Q1: Question 1.
	regexp.MustCompile(`(?im)(?:^|\n)\s*ans(?:wer)?\s*(\d+)\s*[\:\.\)]\s*`),   // Ans 1: Answer 1)
	regexp.MustCompile(`(?im)(?:^|\n)\s*(\d+)\s*[a-z]\s*[\)\.\:]\s*`),         // 1a) 2b.
	regexp.MustCompile(`(?im)(?:^|\n)\s*(\d+)\s*\([ivx]+\)\s*`),               // 1(i)
}

// Match is one detected question number
type Match struct {
	Number int
	Offset int
	Text   string // the matched prefix, stripped from the answer text
}

// DetectQuestionNumbers applies every pattern to text. Matches that start at
// the same offset collapse to the longest one; the result is sorted by offset.
func DetectQuestionNumbers(text string) []Match {
	byOffset := make(map[int]Match)

	for _, pattern := range questionPatterns {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			n, err := strconv.Atoi(text[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			m := Match{Number: n, Offset: loc[0], Text: text[loc[0]:loc[1]]}
			if prev, ok := byOffset[m.Offset]; ok && len(prev.Text) >= len(m.Text) {
				continue
			}
			byOffset[m.Offset] = m
		}
	}

	matches := make([]Match, 0, len(byOffset))
	for _, m := range byOffset {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Offset < matches[j].Offset })
	return matches
}

// Segment is the span of text belonging to one detected question number
type Segment struct {
	Number int
	Text   string
	Offset int
	Length int
}

// SegmentText splits text at detected question numbers. Each segment runs
// from its own match to the next match (or end of text) with the number
// prefix removed. With no matches the whole text is question 1.
func SegmentText(text string) []Segment {
	matches := DetectQuestionNumbers(text)
	if len(matches) == 0 {
		return []Segment{{Number: 1, Text: strings.TrimSpace(text), Offset: 0, Length: len(text)}}
	}

	segments := make([]Segment, 0, len(matches))
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1].Offset
		}
		// A greedy trailing \s* can run past the next match's offset.
		contentStart := min(m.Offset+len(m.Text), end)

		segments = append(segments, Segment{
			Number: m.Number,
			Text:   strings.TrimSpace(text[contentStart:end]),
			Offset: m.Offset,
			Length: end - m.Offset,
		})
	}
	return segments
}

// MergeFragments joins fragments in order. A space is inserted unless the
// text so far ends in . ! ? : ; or the next fragment starts with , . ! ? : ;
func MergeFragments(fragments []string) string {
	var b strings.Builder
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if b.Len() > 0 {
			merged := b.String()
			if !strings.ContainsAny(merged[len(merged)-1:], ".!?:;") &&
				!strings.ContainsAny(f[:1], ",.!?:;") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(f)
	}
	return strings.TrimSpace(b.String())
}
