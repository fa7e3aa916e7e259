package extract

import (
	"fmt"

	"github.com/beaconkb/beacon/internal/models"
)

// Placeholder extraction: descriptive text emitted instead of parsed content
// when a parser is unavailable or fails. Keeps ingestion terminating in
// "completed" rather than perpetually "failed".

func pdfPlaceholder(doc *models.Document) string {
	return fmt.Sprintf(
		"PDF Document: %s\n\nThe text of this PDF could not be extracted. "+
			"The original file is stored and can be reprocessed once a compatible parser is available.",
		doc.Title,
	)
}

func wordPlaceholder(doc *models.Document) string {
	return fmt.Sprintf(
		"Word Document: %s\n\nWord document parsing is not supported yet. "+
			"The original file is stored and can be reprocessed once a parser is available.",
		doc.Title,
	)
}

func urlPlaceholder(doc *models.Document) string {
	return fmt.Sprintf(
		"Web Page: %s\n\nURL: %s\n\nThe page content could not be fetched.",
		doc.Title, doc.SourceURL,
	)
}

func genericPlaceholder(doc *models.Document, ext string, size int64) string {
	if ext == "" {
		ext = "unknown"
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "unknown"
	}
	return fmt.Sprintf(
		"Document: %s\n\nExtension: %s\nContent type: %s\nSize: %d bytes\n\n"+
			"No text extractor is available for this format.",
		doc.Title, ext, contentType, size,
	)
}
