// Package gemini analyzes videos with the Gemini API, requesting structured
// JSON output that decodes directly into a storage.Recommendation.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"stocksight/internal/storage"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
	requestTimeout = 5 * time.Minute
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

const analysisPrompt = "Give me a review of which stocks the financial influencer " +
	"in this video is likely to buy, sell, or hold. A stock can only be in one category."

// Client communicates with the Gemini generateContent API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Gemini client with the given API key. An empty model
// selects the default.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// APIError is returned for non-2xx responses from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API error (HTTP %d): %s", e.Status, e.Message)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

// AnalyzeVideo submits the video at url for analysis and returns the parsed
// recommendation. Rate-limited requests are retried with exponential backoff.
func (c *Client) AnalyzeVideo(ctx context.Context, url string) (*storage.Recommendation, error) {
	body, err := json.Marshal(buildRequest(url))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		rec, err := c.doAnalyze(ctx, body)
		if err == nil {
			return rec, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doAnalyze(ctx context.Context, body []byte) (*storage.Recommendation, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	text := gr.text()
	if text == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var rec storage.Recommendation
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return nil, fmt.Errorf("decoding recommendation payload: %w", err)
	}
	return &rec, nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// --- request/response shapes ---

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	FileURI  string `json:"fileUri"`
	MimeType string `json:"mimeType"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

// schema is the subset of the OpenAPI schema object the API accepts for
// structured output.
type schema struct {
	Type       string             `json:"type"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Items      *schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// text concatenates the text parts of the first candidate.
func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func buildRequest(videoURL string) generateRequest {
	return generateRequest{
		Contents: []content{{
			Parts: []part{
				{FileData: &fileData{FileURI: videoURL, MimeType: "video/mp4"}},
				{Text: analysisPrompt},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   recommendationSchema(),
		},
	}
}

// recommendationSchema mirrors storage.Recommendation's serialization
// contract so the model's JSON decodes without a mapping step.
func recommendationSchema() *schema {
	stockList := &schema{
		Type: "ARRAY",
		Items: &schema{
			Type: "OBJECT",
			Properties: map[string]*schema{
				"company_name":  {Type: "STRING"},
				"ticker_symbol": {Type: "STRING"},
			},
			Required: []string{"company_name", "ticker_symbol"},
		},
	}
	return &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"buy_stocks":  stockList,
			"sell_stocks": stockList,
			"hold_stocks": stockList,
			"key_insights": {
				Type: "OBJECT",
				Properties: map[string]*schema{
					"market_sentiment": {Type: "STRING"},
					"top_picks":        {Type: "STRING"},
					"reasoning":        {Type: "STRING"},
				},
				Required: []string{"market_sentiment", "top_picks", "reasoning"},
			},
		},
		Required: []string{"buy_stocks", "sell_stocks", "hold_stocks", "key_insights"},
	}
}
