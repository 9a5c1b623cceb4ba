package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	xhttp "tokenpulse/pkg/http"
)

// HTTPOracle is the TokenOracle implementation backing the Resolver's slow
// path: a chat-completion-style endpoint asked to name the single token
// symbol a post is about.
type HTTPOracle struct {
	client  *xhttp.Client
	baseURL string
	apiKey  string
	model   string
}

// NewHTTPOracle returns nil if apiKey is empty: the resolver falls back to
// symbol-less posts rather than calling an oracle it has no credential for.
func NewHTTPOracle(client *xhttp.Client, baseURL, apiKey, model string) *HTTPOracle {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/chat/completions"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &HTTPOracle{client: client, baseURL: baseURL, apiKey: apiKey, model: model}
}

type oracleRequest struct {
	Model    string          `json:"model"`
	Messages []oracleMessage `json:"messages"`
}

type oracleMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oracleResponse struct {
	Choices []struct {
		Message oracleMessage `json:"message"`
	} `json:"choices"`
}

const oracleSystemPrompt = "You identify which cryptocurrency ticker symbol a social media post " +
	"is discussing. Reply with the bare ticker only (2-5 uppercase letters), or NONE if the post " +
	"isn't about a specific token."

// Identify asks the oracle for the ticker symbol prompt's post is about.
func (o *HTTPOracle) Identify(ctx context.Context, prompt string) (string, error) {
	body := oracleRequest{
		Model: o.model,
		Messages: []oracleMessage{
			{Role: "system", Content: oracleSystemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	resp, err := o.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    o.baseURL,
		Headers: map[string]string{
			"Authorization": "Bearer " + o.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return "", fmt.Errorf("oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("oracle: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("oracle: decode: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("oracle: empty response")
	}

	symbol := parsed.Choices[0].Message.Content
	if symbol == "NONE" {
		return "", nil
	}
	return symbol, nil
}

// NoopOracle is the TokenOracle wired in when no oracle credential is
// configured: every post falls through to the resolver's regex fast path
// only, and anything the fast path misses stays symbol-less.
type NoopOracle struct{}

func (NoopOracle) Identify(context.Context, string) (string, error) { return "", nil }

// rateLimitError mirrors repository.RateLimitError without importing the
// repository package purely for a type assertion neither side needs; the
// resolver retries via retry.Policy the same way for any error, so an
// oracle-specific 429 doesn't need Enricher-style cooldown tracking.
type rateLimitError struct{}

func (e *rateLimitError) Error() string { return "oracle: rate limited" }
