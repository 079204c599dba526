// Package detector is the HTTP client for the external AI-detection service.
//
// The service takes plain text and returns a document verdict plus ordered
// per-paragraph results, which are persisted verbatim.
package detector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/observability"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// Client implements domain.Detector over HTTP POST /detect. Network failures,
// timeouts, and non-2xx responses all surface as ErrDetectorUnavailable so the
// worker treats them uniformly as transient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *observability.CircuitBreaker
}

// New constructs a detector client. The circuit breaker opens after repeated
// failures so a down detector sheds load instead of tying up worker slots.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    observability.NewCircuitBreaker("ai-detector", 5, 30*time.Second),
	}
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	AIGenerated    bool                     `json:"ai_generated"`
	HumanGenerated bool                     `json:"human_generated"`
	Results        []domain.ParagraphResult `json:"results"`
}

// Detect submits text for AI-detection scoring.
func (c *Client) Detect(ctx domain.Context, text string) (domain.Detection, error) {
	start := time.Now()
	var out domain.Detection
	err := c.breaker.Call(func() error {
		var callErr error
		out, callErr = c.detect(ctx, text)
		return callErr
	})
	if err != nil {
		observability.ObserveDetection("error", time.Since(start))
		return domain.Detection{}, fmt.Errorf("op=detector.detect: %w: %v", domain.ErrDetectorUnavailable, err)
	}
	observability.ObserveDetection("ok", time.Since(start))
	return out, nil
}

func (c *Client) detect(ctx domain.Context, text string) (domain.Detection, error) {
	body, err := json.Marshal(detectRequest{Text: text})
	if err != nil {
		return domain.Detection{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return domain.Detection{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Detection{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection is reusable.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.Detection{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return domain.Detection{}, err
	}
	return domain.Detection{
		AIGenerated:    dr.AIGenerated,
		HumanGenerated: dr.HumanGenerated,
		Paragraphs:     dr.Results,
	}, nil
}
