// Package extract turns evidence bytes into invoice fields. Every failure is
// recorded on the result; Extract never returns an error.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/ocr"
)

// Input is one evidence item handed to the extractor.
type Input struct {
	Name      string
	MediaType string
	Content   []byte
}

// ExtractorConfig wires the capabilities the extractor depends on. Nil
// members fall back to the pdfcpu text layer, disabled OCR and the built-in
// bank directory.
type ExtractorConfig struct {
	TextLayer  TextLayer
	Recognizer ocr.Recognizer
	Directory  *BankDirectory
	// PDFFallback runs OCR on PDFs without a text layer.
	PDFFallback   bool
	MinConfidence float64
	Logger        *slog.Logger
}

type Extractor struct {
	textLayer     TextLayer
	recognizer    ocr.Recognizer
	directory     *BankDirectory
	parser        *FieldParser
	pdfFallback   bool
	minConfidence float64
	logger        *slog.Logger
}

func NewExtractor(cfg ExtractorConfig) *Extractor {
	e := &Extractor{
		textLayer:     cfg.TextLayer,
		recognizer:    cfg.Recognizer,
		directory:     cfg.Directory,
		pdfFallback:   cfg.PDFFallback,
		minConfidence: cfg.MinConfidence,
		logger:        cfg.Logger,
	}
	if e.textLayer == nil {
		e.textLayer = NewPDFTextLayer()
	}
	if e.recognizer == nil {
		e.recognizer = ocr.Disabled{}
	}
	if e.directory == nil {
		e.directory = NewBankDirectory(nil)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.parser = NewFieldParser(e.directory)
	return e
}

const (
	errNoTextLayer    = "pdf_text: no extractable text layer"
	errUnreadableText = "pdf_text: text layer is not readable"
)

// attempt is the outcome of one strategy before it is folded into a result.
type attempt struct {
	models.Attempt
	fields models.Fields
	// failed marks a terminal failure that allows the next strategy to run.
	failed bool
}

// Extract runs the strategy selected by ClassifyFormat on in.
func (e *Extractor) Extract(ctx context.Context, in Input, strategy models.Strategy) (result models.ExtractionResult) {
	logCtx := e.logger.With("name", in.Name, "strategy", strategy)
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Extraction panicked", "panic", r)
			msg := fmt.Sprintf("%s: internal error: %v", strategy, r)
			result = models.ExtractionResult{
				Fields:       models.Fields{},
				StrategyUsed: strategy,
				Errors:       []string{msg},
				Attempts:     append(result.Attempts, models.Attempt{Strategy: strategy, Errors: []string{msg}}),
			}
		}
	}()

	switch strategy {
	case models.StrategyXML:
		a := e.xmlAttempt(in)
		result = fromAttempts(models.StrategyXML, a.fields, a.Errors, a.Attempt)
	case models.StrategyPDFText:
		result = e.extractPDF(ctx, in, logCtx)
	case models.StrategyOCR:
		a := e.ocrAttempt(ctx, in.Content, imageMediaType(in))
		result = fromAttempts(models.StrategyOCR, a.fields, a.Errors, a.Attempt)
	default:
		ext := Extension(in.Name)
		if ext == "" {
			ext = "unknown"
		}
		errs := []string{"unsupported format: " + ext}
		result = fromAttempts(models.StrategyNone, nil, errs, models.Attempt{Strategy: models.StrategyUnsupported, Errors: errs})
	}

	logCtx.Debug("Extraction finished", "strategyUsed", result.StrategyUsed, "fields", len(result.Fields), "errors", len(result.Errors))
	return result
}

func (e *Extractor) extractPDF(ctx context.Context, in Input, logCtx *slog.Logger) models.ExtractionResult {
	pdf := e.pdfAttempt(ctx, in.Content)
	if !pdf.failed {
		return fromAttempts(models.StrategyPDFText, pdf.fields, pdf.Errors, pdf.Attempt)
	}
	if !e.pdfFallback {
		return fromAttempts(models.StrategyPDFText, nil, pdf.Errors, pdf.Attempt)
	}

	logCtx.Info("No usable text layer, falling back to OCR")
	o := e.ocrAttempt(ctx, in.Content, "application/pdf")
	if len(o.fields) > 0 {
		return fromAttempts(models.StrategyOCR, o.fields, o.Errors, pdf.Attempt, o.Attempt)
	}
	errs := append(append([]string{}, pdf.Errors...), o.Errors...)
	return fromAttempts(models.StrategyOCR, nil, errs, pdf.Attempt, o.Attempt)
}

func (e *Extractor) xmlAttempt(in Input) attempt {
	a := attempt{Attempt: models.Attempt{Strategy: models.StrategyXML, TextLength: len(in.Content)}}
	fields, errs, err := parseXML(in.Content, e.directory)
	if err != nil {
		a.Errors = []string{err.Error()}
		a.failed = true
		return a
	}
	a.fields = fields
	a.Errors = errs
	return a
}

func (e *Extractor) pdfAttempt(ctx context.Context, content []byte) attempt {
	a := attempt{Attempt: models.Attempt{Strategy: models.StrategyPDFText}}
	text, err := e.textLayer.Text(ctx, content)
	if err != nil {
		a.Errors = []string{"pdf_text: " + err.Error()}
		a.failed = true
		return a
	}
	text = strings.TrimSpace(text)
	if text == "" {
		a.Errors = []string{errNoTextLayer}
		a.failed = true
		return a
	}
	a.TextLength = len(text)
	if garbled(text) {
		a.Errors = []string{errUnreadableText}
		a.failed = true
		return a
	}
	a.fields, a.Errors = e.parser.Parse(text)
	return a
}

func (e *Extractor) ocrAttempt(ctx context.Context, content []byte, mediaType string) attempt {
	a := attempt{Attempt: models.Attempt{Strategy: models.StrategyOCR}}
	rec, err := e.recognizer.Recognize(ctx, content, mediaType)
	if err != nil {
		a.Errors = []string{"ocr: " + err.Error()}
		a.failed = true
		return a
	}
	text := strings.TrimSpace(rec.Text)
	if text == "" {
		a.Errors = []string{"ocr: no text recognized"}
		a.failed = true
		return a
	}
	a.TextLength = len(text)
	if rec.Confidence != nil && *rec.Confidence < e.minConfidence {
		a.Errors = append(a.Errors, fmt.Sprintf("ocr: low confidence %.2f", *rec.Confidence))
	}
	fields, errs := e.parser.Parse(text)
	a.fields = fields
	a.Errors = append(a.Errors, errs...)
	if len(fields) == 0 {
		a.Errors = append(a.Errors, "ocr: no invoice fields recognized")
		a.failed = true
	}
	return a
}

func fromAttempts(used models.Strategy, fields models.Fields, errs []string, attempts ...models.Attempt) models.ExtractionResult {
	if fields == nil {
		fields = models.Fields{}
	}
	return models.ExtractionResult{
		Fields:       fields,
		StrategyUsed: used,
		Errors:       errs,
		Attempts:     attempts,
	}
}

// imageMediaType prefers the declared type and falls back to the extension.
func imageMediaType(in Input) string {
	if in.MediaType != "" && in.MediaType != "application/octet-stream" {
		return in.MediaType
	}
	switch Extension(in.Name) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}
