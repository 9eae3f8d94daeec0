package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are an OCR engine for scanned invoices. You transcribe the visible text of the document exactly as printed. You never summarize, translate, correct or invent content."
const OCRUserPrompt = `Transcribe all text visible in the provided invoice document.

Follow these rules precisely:
1.  Preserve the reading order of the document, one printed line per output line.
2.  Copy numbers, IBANs, BICs, dates and amounts character by character, including separators and currency symbols.
3.  Do not add labels, explanations or markdown.
4.  Output a single JSON object with exactly two keys:
    - "text": the transcribed text as a string.
    - "confidence": a number between 0 and 1 estimating how legible the document was.
5.  If no text is legible, return {"text": "", "confidence": 0}.`

// DefaultOCRModel is used when no model name is configured.
const DefaultOCRModel = "gemini-1.5-pro"

// VertexClient holds the pre-configured generative models used by the pipeline.
type VertexClient struct {
	OCRModel   *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a new client holding the OCR model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultOCRModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := baseClient.GenerativeModel(modelName)
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		// Structured output keeps the transcription and its confidence apart.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	ocrModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		OCRModel:   ocrModel,
		baseClient: baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
