package editor

import (
	"context"
	"fmt"

	"pdfcollab/overlay"
)

// Parser is the external PDF-parsing collaborator. The core never parses
// PDF bytes itself.
type Parser interface {
	// PageCount returns the number of pages in the document.
	PageCount(ctx context.Context, data []byte) (int, error)
}

// Exporter is the external flattening collaborator: it bakes the overlay
// elements into the original bytes and returns the final output. The core
// has no opinion on the output format.
type Exporter interface {
	// Flatten renders the elements onto the original document.
	Flatten(ctx context.Context, original []byte, elements []overlay.Element, pageCount int) ([]byte, error)
}

// Export hands the current element collection to the export routine.
// Cursors are presence data, not content, and are never exported.
func (e *Editor) Export(ctx context.Context, parser Parser, exporter Exporter, original []byte) ([]byte, error) {
	pageCount, err := parser.PageCount(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("failed to determine page count: %w", err)
	}

	output, err := exporter.Flatten(ctx, original, e.Elements(), pageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten document: %w", err)
	}
	return output, nil
}
