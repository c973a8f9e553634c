// Package ocr extracts expense fields from bill images by delegating to the
// OpenRouter vision API. It is a collaborator of the expense endpoints: its
// output pre-fills form fields, and its failure never blocks an expense that
// already has an explicit amount.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xpense-app/xpense/ledger"
	"github.com/xpense-app/xpense/money"
)

const prompt = "Extract the following details from this bill image: title (a short " +
	"description of what was purchased), amount (just the number), category (one of: " +
	"Food, Rent, Utilities, Transportation, Entertainment, Shopping, Other), and a " +
	"brief description. Format as JSON."

// ErrAnalysisFailed is returned when every configured model fails to produce
// a usable extraction.
var ErrAnalysisFailed = errors.New("bill analysis failed")

// Extraction is the result of analyzing one bill image.
type Extraction struct {
	Title       string          `json:"title"`
	Amount      money.Cents     `json:"amount"`
	Category    ledger.Category `json:"category"`
	Description string          `json:"description"`
	Model       string          `json:"model"`
}

// Client calls the OpenRouter chat-completions API with a fixed model list,
// trying each model in order until one returns a parseable extraction.
type Client struct {
	apiKey         string
	baseURL        string
	models         []string
	httpClient     *http.Client
	attemptTimeout time.Duration
}

// NewClient creates an OCR client. models are tried in the given order.
func NewClient(apiKey, baseURL string, models []string) *Client {
	return &Client{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		models:         models,
		httpClient:     &http.Client{},
		attemptTimeout: 10 * time.Second,
	}
}

// Analyze runs the image through the model list sequentially and returns the
// first successful extraction. Each attempt is bounded by its own timeout.
func (c *Client) Analyze(ctx context.Context, image []byte, contentType string) (Extraction, error) {
	if len(c.models) == 0 {
		return Extraction{}, fmt.Errorf("%w: no models configured", ErrAnalysisFailed)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))

	var lastErr error
	for _, model := range c.models {
		extraction, err := c.analyzeWithModel(ctx, model, dataURL)
		if err == nil {
			extraction.Model = model
			return extraction, nil
		}
		if ctx.Err() != nil {
			return Extraction{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, ctx.Err())
		}
		lastErr = err
	}
	return Extraction{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, lastErr)
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) analyzeWithModel(ctx context.Context, model, dataURL string) (Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       model,
		MaxTokens:   500,
		Temperature: 0.5,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image", Image: dataURL},
			},
		}},
	})
	if err != nil {
		return Extraction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Extraction{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Extraction{}, fmt.Errorf("model %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Extraction{}, fmt.Errorf("model %s: status %d", model, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return Extraction{}, fmt.Errorf("model %s: decoding response: %w", model, err)
	}
	if len(chat.Choices) == 0 {
		return Extraction{}, fmt.Errorf("model %s: empty response", model)
	}

	extraction, err := parseContent(chat.Choices[0].Message.Content)
	if err != nil {
		return Extraction{}, fmt.Errorf("model %s: %w", model, err)
	}
	return extraction, nil
}

// parseContent decodes the model's JSON answer. Title, amount and category
// are required; a category outside the fixed set falls back to Other.
func parseContent(content string) (Extraction, error) {
	var payload struct {
		Title       string          `json:"title"`
		Amount      json.RawMessage `json:"amount"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Extraction{}, fmt.Errorf("parsing extraction: %w", err)
	}
	if payload.Title == "" || len(payload.Amount) == 0 || payload.Category == "" {
		return Extraction{}, errors.New("missing required fields in extraction")
	}

	amountStr := strings.Trim(string(payload.Amount), `"`)
	d, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Extraction{}, fmt.Errorf("parsing extracted amount %q: %w", amountStr, err)
	}
	amount, err := money.FromDecimal(d.Truncate(2))
	if err != nil {
		return Extraction{}, err
	}

	category := ledger.Category(payload.Category)
	if !category.Valid() {
		category = ledger.CategoryOther
	}

	return Extraction{
		Title:       payload.Title,
		Amount:      amount,
		Category:    category,
		Description: payload.Description,
	}, nil
}
