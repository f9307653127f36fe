package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

// imageText preprocesses the image for OCR and hands it to the engine.
// Grayscale plus a bounded resize keeps engine input predictable without
// hurting recognition quality.
func (e *Extractor) imageText(ctx context.Context, data []byte, contentType string) (string, error) {
	if e.engine == nil {
		return "", fmt.Errorf("no ocr engine configured for %s", contentType)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	img = imaging.Grayscale(img)
	if max := e.opts.MaxImageDim; max > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > max || bounds.Dy() > max {
			img = imaging.Fit(img, max, max, imaging.Lanczos)
		}
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return e.engine.Recognize(ctx, buf.Bytes(), "image/png")
}
