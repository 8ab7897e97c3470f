// Package describer wraps the external vision-language endpoint: an
// opaque HTTP capability describe(image_bytes) -> text, backed by Ollama's
// /api/generate.
package describer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/visiondispatch/core/internal/model"
)

const describeTimeout = 300 * time.Second

// Describer calls the configured Ollama model to produce a text
// description for an image.
type Describer struct {
	client *resty.Client
	model  string
}

// New constructs a Describer against baseURL using the given model name.
func New(baseURL, modelName string) *Describer {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(describeTimeout)

	return &Describer{client: c, model: modelName}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Describe sends image bytes to the vision model and returns its textual
// description. A 5xx, network reset, or timeout classifies as
// ErrDescribeTransient and is retried once inline before being surfaced;
// a 4xx (other than 429) or an unparsable response classifies as
// ErrDescribePermanent.
func (d *Describer) Describe(ctx context.Context, prompt string, imageBytes []byte) (string, error) {
	reqBody := generateRequest{
		Model:  d.model,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(imageBytes)},
		Stream: false,
	}

	resp, err := d.client.R().SetContext(ctx).SetBody(&reqBody).Post("/api/generate")
	if err != nil {
		return d.retryOnce(ctx, &reqBody, err)
	}
	if isRetryableStatus(resp.StatusCode()) {
		return d.retryOnce(ctx, &reqBody, fmt.Errorf("ollama status %d: %s", resp.StatusCode(), resp.String()))
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: ollama status %d: %s", model.ErrDescribePermanent, resp.StatusCode(), resp.String())
	}

	return decodeResponse(resp.Body())
}

// retryOnce is the single best-effort retry on a transient failure,
// mirroring the teacher's pull-then-retry-once pattern but without the
// model-pull step (the vision model is assumed already present).
func (d *Describer) retryOnce(ctx context.Context, reqBody *generateRequest, firstErr error) (string, error) {
	resp, err := d.client.R().SetContext(ctx).SetBody(reqBody).Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("%w: %v (after retry, first error: %v)", model.ErrDescribeTransient, err, firstErr)
	}
	if isRetryableStatus(resp.StatusCode()) {
		return "", fmt.Errorf("%w: ollama status %d: %s (after retry)", model.ErrDescribeTransient, resp.StatusCode(), resp.String())
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: ollama status %d: %s", model.ErrDescribePermanent, resp.StatusCode(), resp.String())
	}
	return decodeResponse(resp.Body())
}

func decodeResponse(body []byte) (string, error) {
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("%w: decode ollama response: %v", model.ErrDescribePermanent, err)
	}
	return gr.Response, nil
}

// isRetryableStatus reports whether a status code is a transient failure:
// any 5xx, or 429 (rate limited, retried rather than treated as permanent
// like other 4xx codes).
func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// HealthPing probes Ollama's root endpoint, satisfying health.HealthPinger.
func (d *Describer) HealthPing(ctx context.Context) error {
	resp, err := d.client.R().SetContext(ctx).Get("/")
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrDescribeTransient, err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("%w: ollama status %d", model.ErrDescribeTransient, resp.StatusCode())
	}
	return nil
}
