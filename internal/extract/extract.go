// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrUnsupported is returned for payloads that are not a known document type.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrNoText is returned when a supported document yields no readable text.
	ErrNoText = errors.New("document has no readable text")
)

// Kind is the normalized media type of an uploaded document.
type Kind string

const (
	KindText     Kind = "text/plain"
	KindMarkdown Kind = "text/markdown"
	KindPDF      Kind = "application/pdf"
	KindDOCX     Kind = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// uri extension the ext parser dispatches on
func (k Kind) ext() string {
	switch k {
	case KindPDF:
		return ".pdf"
	case KindDOCX:
		return ".docx"
	case KindMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// Detect sniffs the payload and returns its document kind. The filename is
// only consulted to tell markdown apart from plain text.
func Detect(data []byte, filename string) (Kind, error) {
	if len(data) == 0 {
		return "", ErrUnsupported
	}
	mt := mimetype.Detect(data)
	switch {
	case mt.Is(string(KindPDF)):
		return KindPDF, nil
	case mt.Is(string(KindDOCX)):
		return KindDOCX, nil
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			switch strings.ToLower(filepath.Ext(filename)) {
			case ".md", ".markdown":
				return KindMarkdown, nil
			}
			return KindText, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
}

// Extractor converts a document of a known kind into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, kind Kind) (string, error)
}

// DocumentExtractor dispatches on kind through an eino ext parser.
type DocumentExtractor struct {
	parser *parser.ExtParser
}

func NewDocumentExtractor(ctx context.Context) (*DocumentExtractor, error) {
	p, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf":  pdfParser{},
			".docx": docxParser{},
			".md":   markdownParser{},
		},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init document parser: %w", err)
	}
	return &DocumentExtractor{parser: p}, nil
}

func (e *DocumentExtractor) Extract(ctx context.Context, data []byte, kind Kind) (string, error) {
	switch kind {
	case KindText, KindMarkdown, KindPDF, KindDOCX:
	default:
		return "", ErrUnsupported
	}
	docs, err := e.parser.Parse(ctx, bytes.NewReader(data), parser.WithURI("upload"+kind.ext()))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n\n")
	}
	text := normalize(builder.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// normalize collapses runs of blanks inside lines and keeps paragraph breaks.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
