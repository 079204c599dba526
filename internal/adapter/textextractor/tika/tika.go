// Package tika provides Apache Tika integration for text extraction.
//
// It extracts text content from PDF, DOCX, and plain text uploads. The client
// performs PUT /tika with Accept: text/plain and sanitizes the response before
// handing it to counting and detection.
package tika

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
	"github.com/fairyhunter13/ai-essay-detector/pkg/textx"
)

// Client is a minimal Apache Tika HTTP client implementing domain.TextExtractor.
// See: https://tika.apache.org/server/ for API details.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Tika client with a default timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Extract returns sanitized plain text from the raw upload bytes. Plain text
// never leaves the process; other extractable formats round-trip through the
// Tika server. Image formats are rejected with ErrUnsupportedFileType.
func (c *Client) Extract(ctx domain.Context, data []byte, fileType domain.FileType) (string, error) {
	if !fileType.Extractable() {
		return "", fmt.Errorf("op=extract.tika: %w: %s", domain.ErrUnsupportedFileType, fileType)
	}
	if fileType == domain.FileTypeTXT {
		return textx.SanitizeText(string(data)), nil
	}

	u := c.baseURL
	if u == "" {
		u = "http://localhost:9998"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("op=extract.tika: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType(fileType))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=extract.tika: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("op=extract.tika: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=extract.tika: %w", err)
	}
	return textx.SanitizeText(string(b)), nil
}

func contentType(fileType domain.FileType) string {
	switch fileType {
	case domain.FileTypePDF:
		return "application/pdf"
	case domain.FileTypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
