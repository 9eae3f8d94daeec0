package extract

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/mvrga/speer/internal/models"
)

var strategyByExtension = map[string]models.Strategy{
	"xml":  models.StrategyXML,
	"pdf":  models.StrategyPDFText,
	"png":  models.StrategyOCR,
	"jpg":  models.StrategyOCR,
	"jpeg": models.StrategyOCR,
}

var strategyByMediaType = map[string]models.Strategy{
	"application/xml": models.StrategyXML,
	"text/xml":        models.StrategyXML,
	"application/pdf": models.StrategyPDFText,
	"image/png":       models.StrategyOCR,
	"image/jpeg":      models.StrategyOCR,
}

// ClassifyFormat selects the extraction strategy from file metadata only.
// The extension decides; the declared media type is consulted only when the
// name has no extension. Anything unknown is unsupported, never guessed.
func ClassifyFormat(name, declaredType string) models.Strategy {
	if ext := Extension(name); ext != "" {
		if s, ok := strategyByExtension[ext]; ok {
			return s
		}
		return models.StrategyUnsupported
	}
	if declaredType != "" {
		mediaType, _, err := mime.ParseMediaType(declaredType)
		if err == nil {
			if s, ok := strategyByMediaType[mediaType]; ok {
				return s
			}
		}
	}
	return models.StrategyUnsupported
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
