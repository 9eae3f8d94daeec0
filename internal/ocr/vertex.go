package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/mvrga/speer/internal/gcp"
)

// VertexRecognizer sends documents inline to a Gemini model configured for transcription.
type VertexRecognizer struct {
	model  *genai.GenerativeModel
	logger *slog.Logger
}

func NewVertexRecognizer(client *gcp.VertexClient, logger *slog.Logger) *VertexRecognizer {
	return &VertexRecognizer{model: client.OCRModel, logger: logger}
}

// transcription is the JSON object the OCR model is instructed to return.
type transcription struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func (r *VertexRecognizer) Recognize(ctx context.Context, content []byte, mediaType string) (Recognition, error) {
	resp, err := r.model.GenerateContent(ctx, genai.Blob{MIMEType: mediaType, Data: content}, genai.Text(gcp.OCRUserPrompt))
	if err != nil {
		return Recognition{}, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Recognition{}, fmt.Errorf("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason != genai.FinishReasonStop {
		return Recognition{}, fmt.Errorf("gemini stopped early: %v", candidate.FinishReason)
	}

	raw := extractJSONContent(candidate)
	if raw == "" {
		return Recognition{}, fmt.Errorf("gemini returned an empty response")
	}

	var out transcription
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		r.logger.Warn("OCR response was not JSON", "error", err, "responseBody", raw)
		return Recognition{}, fmt.Errorf("failed to parse OCR response: %w", err)
	}
	return Recognition{Text: strings.TrimSpace(out.Text), Confidence: out.Confidence}, nil
}

// extractJSONContent concatenates the text parts of a candidate and strips markdown fences.
func extractJSONContent(candidate *genai.Candidate) string {
	if candidate.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	clean := strings.TrimSpace(sb.String())
	if rest, ok := strings.CutPrefix(clean, "```"); ok {
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "json"), "JSON")
		clean = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	}
	return strings.TrimSpace(clean)
}
