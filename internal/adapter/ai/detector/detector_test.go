package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

func TestDetectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/detect", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Paragraph one.\n\nParagraph two.", req["text"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"ai_generated":    true,
			"human_generated": false,
			"results": []map[string]any{
				{"paragraph": "Paragraph one.", "label": "AI Generated", "probability": 0.93},
				{"paragraph": "Paragraph two.", "label": "Human Written", "probability": 0.41},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	det, err := c.Detect(context.Background(), "Paragraph one.\n\nParagraph two.")
	require.NoError(t, err)
	assert.True(t, det.AIGenerated)
	assert.False(t, det.HumanGenerated)
	require.Len(t, det.Paragraphs, 2)
	assert.Equal(t, "Paragraph one.", det.Paragraphs[0].Text)
	assert.Equal(t, domain.LabelAIGenerated, det.Paragraphs[0].Label)
	assert.InDelta(t, 0.93, det.Paragraphs[0].Probability, 1e-9)
}

func TestDetectServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Detect(context.Background(), "some text")
	assert.ErrorIs(t, err, domain.ErrDetectorUnavailable)
}

func TestDetectNetworkErrorIsUnavailable(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second)
	_, err := c.Detect(context.Background(), "some text")
	assert.ErrorIs(t, err, domain.ErrDetectorUnavailable)
}

func TestDetectBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	for i := 0; i < 5; i++ {
		_, _ = c.Detect(context.Background(), "text")
	}
	assert.True(t, c.breaker.IsOpen())

	_, err := c.Detect(context.Background(), "text")
	assert.ErrorIs(t, err, domain.ErrDetectorUnavailable)
}
