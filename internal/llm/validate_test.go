package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Transcription
		wantErr bool
	}{
		{
			name: "plain",
			raw:  `{"text":"1. roots","confidence":0.8}`,
			want: Transcription{Text: "1. roots", Confidence: 0.8},
		},
		{
			name: "fenced",
			raw:  "```json\n{\"text\":\"a\",\"confidence\":0.5}\n```",
			want: Transcription{Text: "a", Confidence: 0.5},
		},
		{
			name: "trailing comma repaired",
			raw:  `{"text":"a","confidence":0.5,}`,
			want: Transcription{Text: "a", Confidence: 0.5},
		},
		{
			name:    "missing required field",
			raw:     `{"text":"a"}`,
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			raw:     `{"text":"a","confidence":1.5}`,
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out Transcription
			err := DecodeJSON(json.RawMessage(tt.raw), TranscriptionSchema, &out)
			if tt.wantErr {
				var inv *ErrInvalidResponse
				require.ErrorAs(t, err, &inv)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestDecodeJSON_NoSchema(t *testing.T) {
	var out map[string]any
	require.NoError(t, DecodeJSON(json.RawMessage(`{"anything": [1,2]}`), nil, &out))
	assert.Contains(t, out, "anything")
}

func TestGenerateJSON(t *testing.T) {
	mock := NewMockProvider(MockJSON(Transcription{Text: "hi", Confidence: 0.9}))

	var out Transcription
	resp, err := GenerateJSON(context.Background(), mock, Request{Schema: TranscriptionSchema}, &out)
	require.NoError(t, err)
	assert.Equal(t, "mock", resp.Model)
	assert.Equal(t, "hi", out.Text)
}

func TestVisionExtractor(t *testing.T) {
	mock := NewMockProvider(MockJSON(Transcription{Text: "1. A stack is LIFO", Confidence: 0.85}))
	v := NewVisionExtractor(mock)

	text, conf, err := v.ExtractText(context.Background(), Image{Data: []byte{1}, MIMEType: "image/png"}, "read it")
	require.NoError(t, err)
	assert.Equal(t, "1. A stack is LIFO", text)
	assert.Equal(t, 0.85, conf)

	require.Len(t, mock.Calls, 1)
	assert.Len(t, mock.Calls[0].Images, 1)
	assert.Equal(t, "read it", mock.Calls[0].Prompt)
}

func TestVisionExtractor_NoProvider(t *testing.T) {
	_, _, err := NewVisionExtractor(nil).ExtractText(context.Background(), Image{}, "")
	assert.True(t, IsTransient(err))
}
