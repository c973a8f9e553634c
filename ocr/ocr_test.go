package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpense-app/xpense/ledger"
	"github.com/xpense-app/xpense/money"
)

func chatReply(content string) string {
	reply := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	data, _ := json.Marshal(reply)
	return string(data)
}

func TestAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "model-a", req.Model)

		w.Write([]byte(chatReply(`{"title":"Pizza night","amount":45.50,"category":"Food","description":"Two pizzas"}`)))
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, []string{"model-a"})
	got, err := client.Analyze(context.Background(), []byte("fake-image"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, Extraction{
		Title:       "Pizza night",
		Amount:      money.Cents(4550),
		Category:    ledger.CategoryFood,
		Description: "Two pizzas",
		Model:       "model-a",
	}, got)
}

func TestAnalyzeFallsThroughModels(t *testing.T) {
	var models []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		models = append(models, req.Model)

		switch req.Model {
		case "model-a":
			w.WriteHeader(http.StatusTooManyRequests)
		case "model-b":
			// Unparseable content also falls through.
			w.Write([]byte(chatReply("sorry, I cannot help with that")))
		default:
			w.Write([]byte(chatReply(`{"title":"Taxi","amount":"12.00","category":"Transportation"}`)))
		}
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, []string{"model-a", "model-b", "model-c"})
	got, err := client.Analyze(context.Background(), []byte("fake-image"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, []string{"model-a", "model-b", "model-c"}, models)
	assert.Equal(t, "Taxi", got.Title)
	assert.Equal(t, money.Cents(1200), got.Amount)
	assert.Equal(t, "model-c", got.Model)
}

func TestAnalyzeAllModelsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, []string{"model-a", "model-b"})
	_, err := client.Analyze(context.Background(), []byte("fake-image"), "image/jpeg")
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestAnalyzeCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"title":"Pizza","amount":1,"category":"Food"}`)))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", server.URL, []string{"model-a", "model-b"})
	_, err := client.Analyze(ctx, []byte("fake-image"), "image/jpeg")
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestParseContent(t *testing.T) {
	t.Run("unknown category becomes Other", func(t *testing.T) {
		got, err := parseContent(`{"title":"Misc","amount":3,"category":"Gadgets"}`)
		require.NoError(t, err)
		assert.Equal(t, ledger.CategoryOther, got.Category)
		assert.Equal(t, money.Cents(300), got.Amount)
	})

	t.Run("extra decimal places are truncated", func(t *testing.T) {
		got, err := parseContent(`{"title":"Gas","amount":"40.119","category":"Transportation"}`)
		require.NoError(t, err)
		assert.Equal(t, money.Cents(4011), got.Amount)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		_, err := parseContent(`{"title":"No amount","category":"Food"}`)
		assert.Error(t, err)
	})
}
