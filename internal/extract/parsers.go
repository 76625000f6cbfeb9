package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

type pdfParser struct{}

func (pdfParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("pdf read: %w", err)
	}
	return singleDoc(string(b), opts), nil
}

type docxParser struct{}

// Parse gathers the <w:t> runs of word/document.xml, one line per paragraph.
func (docxParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("docx container: %w", err)
	}
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return nil, fmt.Errorf("docx: word/document.xml missing")
	}
	rc, err := part.Open()
	if err != nil {
		return nil, fmt.Errorf("open docx body: %w", err)
	}
	defer rc.Close()

	var out strings.Builder
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docx body: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &el); err != nil {
					return nil, fmt.Errorf("docx text run: %w", err)
				}
				out.WriteString(v)
			case "tab":
				out.WriteString(" ")
			case "br":
				out.WriteString("\n")
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				out.WriteString("\n")
			}
		}
	}
	return singleDoc(out.String(), opts), nil
}

var (
	mdHeading = regexp.MustCompile(`^\s{0,3}#{1,6}\s+`)
	mdBullet  = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+`)
	mdLink    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

	// emphasis markers only count when they wrap text
	mdStrong = regexp.MustCompile(`\*{1,3}([^\s*](?:[^*]*?[^\s*])?)\*{1,3}`)
	mdUnder  = regexp.MustCompile(`(^|[^\p{L}\p{N}_])_{1,3}([^\s_](?:[^_]*?[^\s_])?)_{1,3}($|[^\p{L}\p{N}_])`)
	mdCode   = regexp.MustCompile("`([^`]+)`")
)

type markdownParser struct{}

// Parse strips markdown markup and keeps the prose.
func (markdownParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			lines[i] = ""
			continue
		}
		if inFence {
			lines[i] = ""
			continue
		}
		line = mdHeading.ReplaceAllString(line, "")
		line = mdBullet.ReplaceAllString(line, "")
		line = mdLink.ReplaceAllString(line, "$1")
		line = mdStrong.ReplaceAllString(line, "$1")
		line = mdUnder.ReplaceAllString(line, "$1$2$3")
		lines[i] = mdCode.ReplaceAllString(line, "$1")
	}
	return singleDoc(strings.Join(lines, "\n"), opts), nil
}

func singleDoc(content string, opts []parser.Option) []*schema.Document {
	o := parser.GetCommonOptions(&parser.Options{}, opts...)
	return []*schema.Document{{
		ID:       o.URI,
		Content:  content,
		MetaData: o.ExtraMeta,
	}}
}
