package ocr

import (
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
)

func TestExtractJSONContent(t *testing.T) {
	tests := []struct {
		name      string
		candidate *genai.Candidate
		want      string
	}{
		{
			name:      "no content",
			candidate: &genai.Candidate{},
			want:      "",
		},
		{
			name:      "plain json",
			candidate: &genai.Candidate{Content: &genai.Content{Parts: []genai.Part{genai.Text(` {"text":"Total 450.00 EUR"} `)}}},
			want:      `{"text":"Total 450.00 EUR"}`,
		},
		{
			name:      "json fence",
			candidate: &genai.Candidate{Content: &genai.Content{Parts: []genai.Part{genai.Text("```json\n{\"text\":\"a\",\"confidence\":0.9}\n```")}}},
			want:      `{"text":"a","confidence":0.9}`,
		},
		{
			name:      "bare fence",
			candidate: &genai.Candidate{Content: &genai.Content{Parts: []genai.Part{genai.Text("```\n{\"text\":\"a\"}\n```")}}},
			want:      `{"text":"a"}`,
		},
		{
			name: "text split across parts",
			candidate: &genai.Candidate{Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`{"text":`),
				genai.Blob{MIMEType: "image/png", Data: []byte{0x89}},
				genai.Text(`"b"}`),
			}}},
			want: `{"text":"b"}`,
		},
		{
			name:      "prose is passed through",
			candidate: &genai.Candidate{Content: &genai.Content{Parts: []genai.Part{genai.Text("I cannot read this document.")}}},
			want:      "I cannot read this document.",
		},
		{
			name:      "only whitespace",
			candidate: &genai.Candidate{Content: &genai.Content{Parts: []genai.Part{genai.Text("  \n ")}}},
			want:      "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONContent(tt.candidate))
		})
	}
}
