// Package export renders completed documents and writes them to object storage.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"path"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// DocumentReader is the store subset the exporter needs.
type DocumentReader interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// Service exports documents in one of the supported formats.
type Service struct {
	docs          DocumentReader
	store         ObjectStore
	defaultFormat string
	md            goldmark.Markdown
}

func NewService(docs DocumentReader, store ObjectStore, defaultFormat string) *Service {
	if defaultFormat == "" {
		defaultFormat = FormatMarkdown
	}
	return &Service{
		docs:          docs,
		store:         store,
		defaultFormat: defaultFormat,
		md:            goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Export renders the document and returns the storage key it was written to.
// An empty format selects the configured default.
func (s *Service) Export(ctx context.Context, documentID uuid.UUID, format string) (string, error) {
	if format == "" {
		format = s.defaultFormat
	}
	var ext, contentType string
	switch format {
	case FormatMarkdown:
		ext, contentType = "md", "text/markdown; charset=utf-8"
	case FormatHTML:
		ext, contentType = "html", "text/html; charset=utf-8"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("loading document: %w", err)
	}

	source := RenderMarkdown(doc)
	body := []byte(source)
	if format == FormatHTML {
		body, err = s.renderHTML(doc.Topic, source)
		if err != nil {
			return "", err
		}
	}

	key := StorageKey(documentID, ext)
	if _, err := s.store.SaveWithKey(ctx, key, contentType, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("saving export: %w", err)
	}
	return key, nil
}

// StorageKey is where a document's export of the given extension is stored.
func StorageKey(documentID uuid.UUID, ext string) string {
	return path.Join("documents", documentID.String(), "paper."+ext)
}

// RenderMarkdown returns the full Markdown source: the topic as title followed
// by the assembled section content.
func RenderMarkdown(doc *models.Document) string {
	return fmt.Sprintf("# %s\n\n%s\n", doc.Topic, doc.Content)
}

func (s *Service) renderHTML(title, source string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n",
		html.EscapeString(title))
	if err := s.md.Convert([]byte(source), &buf); err != nil {
		return nil, fmt.Errorf("rendering html: %w", err)
	}
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}
