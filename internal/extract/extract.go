// Package extract converts submission documents into plain text.
//
// Extraction never fails: any parser error degrades to a best-effort fallback
// or an empty string, logged but not propagated. The caller decides how to
// treat empty or suspiciously short text.
package extract

import (
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/edulab/autochecker/internal/models"
)

var (
	serviceChars = regexp.MustCompile(`[^0-9A-Za-z_\s\x{0400}-\x{04FF}.,!?;:()\-]`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// Extractor pulls plain text out of Word, HTML and PDF submissions.
type Extractor struct {
	logger zerolog.Logger
}

// New builds an Extractor.
func New(logger zerolog.Logger) *Extractor {
	return &Extractor{logger: logger.With().Str("component", "extractor").Logger()}
}

// Extract returns the text content of the file, or an empty string when
// nothing could be read.
func (e *Extractor) Extract(path string, kind models.FileKind) string {
	var (
		text string
		err  error
	)

	switch kind {
	case models.FileKindDocx, models.FileKindDoc:
		text, err = extractDocx(path)
		if err != nil {
			e.logger.Warn().Err(err).Str("path", path).Msg("document parse failed, using raw fallback")
			text, err = e.rawFallback(path)
		}
	case models.FileKindHTML:
		text, err = extractHTML(path)
	case models.FileKindPDF:
		text, err = extractPDF(path)
		if err != nil {
			e.logger.Warn().Err(err).Str("path", path).Msg("pdf parse failed, using raw fallback")
			text, err = e.rawFallback(path)
		}
	default:
		e.logger.Error().Str("path", path).Str("kind", string(kind)).Msg("unsupported file kind")
		return ""
	}

	if err != nil {
		e.logger.Error().Err(err).Str("path", path).Msg("text extraction failed")
		return ""
	}
	return text
}

// rawFallback decodes the file bytes as UTF-8 dropping everything
// undecodable, strips characters outside letters, digits, Cyrillic and basic
// punctuation, and collapses whitespace.
func (e *Extractor) rawFallback(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	text := decodeLossy(content)
	text = serviceChars.ReplaceAllString(text, " ")
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), nil
}

func decodeLossy(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size != 1 {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}
