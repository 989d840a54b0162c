package classify

import (
	"bytes"
	"net/http"

	"github.com/spherical/pdf2tables/internal/domain"
)

// SniffLen is the number of leading bytes DetectFormat looks at.
const SniffLen = 512

var pdfMagic = []byte("%PDF-")

// DetectFormat identifies the document type from its leading bytes. Client
// supplied content types and file extensions are not trusted.
func DetectFormat(head []byte) (domain.Format, error) {
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}

	// some producers emit a BOM or whitespace before the header
	trimmed := bytes.TrimLeft(head, "\xef\xbb\xbf\r\n\t ")
	if bytes.HasPrefix(trimmed, pdfMagic) {
		return domain.FormatPDF, nil
	}

	switch http.DetectContentType(head) {
	case "application/pdf":
		return domain.FormatPDF, nil
	case "image/png":
		return domain.FormatPNG, nil
	case "image/jpeg":
		return domain.FormatJPEG, nil
	}
	return "", domain.UnsupportedFormatError("only PDF, PNG and JPEG documents are accepted", nil)
}
