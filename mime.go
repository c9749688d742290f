package stowfs

import (
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MimeDetector guesses content types for new files.
type MimeDetector interface {
	// DetectPath guesses from the file name alone.
	DetectPath(path string) string
	// Detect guesses from the content, falling back to the file name.
	Detect(path string, r io.Reader) (string, error)
}

// DefaultMimeDetector sniffs content with gabriel-vasile/mimetype and uses
// the extension table of the mime package for names.
type DefaultMimeDetector struct{}

func (DefaultMimeDetector) DetectPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return MimeTypeDefault
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return stripParams(t)
	}
	if t := extensionMime(ext); t != "" {
		return t
	}
	return MimeTypeDefault
}

func (d DefaultMimeDetector) Detect(path string, r io.Reader) (string, error) {
	byPath := d.DetectPath(path)
	if byPath != MimeTypeDefault {
		return byPath, nil
	}

	m, err := mimetype.DetectReader(r)
	if err != nil {
		return "", err
	}
	return stripParams(m.String()), nil
}

// extensionMime maps a few extensions the system table tends to miss.
func extensionMime(ext string) string {
	switch ext {
	case ".txt", ".text":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".yml", ".yaml":
		return "application/yaml"
	case ".heic":
		return "image/heic"
	default:
		return ""
	}
}

func stripParams(t string) string {
	base, _, _ := strings.Cut(t, ";")
	return strings.TrimSpace(base)
}
