package extract

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"

	"portfolio-pipeline/internal/models"
)

// Engine performs OCR on preprocessed document bytes. Implementations
// wrap an external OCR service or binary; tests use a stub.
type Engine interface {
	Recognize(ctx context.Context, data []byte, contentType string) (string, error)
}

// Options tune preprocessing before OCR.
type Options struct {
	// MaxImageDim bounds the longest image side before OCR. Zero keeps
	// the source dimensions.
	MaxImageDim int
}

// Extractor turns an uploaded document into plain text, routing on the
// declared content type. Plain text and HTML are handled locally; images
// and PDFs require an OCR engine.
type Extractor struct {
	engine Engine
	opts   Options
}

func New(engine Engine, opts Options) *Extractor {
	return &Extractor{engine: engine, opts: opts}
}

// Extract returns the document text. It fails with an extraction
// PipelineError when the content type is unsupported, the engine is
// missing for a type that needs one, or the result is empty.
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	var (
		text string
		err  error
	)
	switch {
	case mediaType == "text/plain" || mediaType == "text/markdown":
		text = string(data)
	case mediaType == "text/html":
		text, err = htmlText(bytes.NewReader(data))
	case strings.HasPrefix(mediaType, "image/"):
		text, err = e.imageText(ctx, data, mediaType)
	case mediaType == "application/pdf":
		text, err = e.engineText(ctx, data, mediaType)
	default:
		err = fmt.Errorf("unsupported content type %q", contentType)
	}
	if err != nil {
		return "", extractionErr(err)
	}

	text = normalizeText(text)
	if text == "" {
		return "", extractionErr(fmt.Errorf("no text found in %s document", mediaType))
	}
	return text, nil
}

func (e *Extractor) engineText(ctx context.Context, data []byte, contentType string) (string, error) {
	if e.engine == nil {
		return "", fmt.Errorf("no ocr engine configured for %s", contentType)
	}
	return e.engine.Recognize(ctx, data, contentType)
}

func extractionErr(err error) error {
	return models.NewPipelineError(models.ErrExtraction, models.StageExtraction, "text extraction failed", err)
}

// normalizeText collapses runs of blank lines and trims each line, so
// downstream heuristics see a stable shape regardless of source format.
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, strings.Join(strings.Fields(line), " "))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
