// Package score decides content relevance: a primary LLM judgement
// combined with an advisory secondary heuristic.
package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
)

// LLMConfig configures the primary scoring client.
type LLMConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// LLMScorer implements crawl.Scorer against an OpenAI-compatible chat
// endpoint. The model is an external oracle: only the request/response
// contract lives here.
type LLMScorer struct {
	cfg        LLMConfig
	httpClient *http.Client
}

const systemPrompt = `You judge whether a web page is relevant to a topic.
Respond with a single JSON object and nothing else:
{"score": <0-100>, "is_relevant": <bool>, "is_actual_article": <bool>, "reason": "<short explanation>"}`

// NewLLMScorer builds a client from configuration.
func NewLLMScorer(cfg LLMConfig) *LLMScorer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LLMScorer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// maxScoringChars caps how much text is sent per call; scoring quality
// plateaus well before full-page length and tokens cost money.
const maxScoringChars = 6000

// Score posts the page to the scoring endpoint and parses its judgement.
// A malformed response is an error — a scoring failure, never a silent
// low score.
func (s *LLMScorer) Score(ctx context.Context, req crawl.ScoreRequest) (crawl.ScoreResult, error) {
	if s.cfg.APIKey == "" || s.cfg.Endpoint == "" || s.cfg.Model == "" {
		return crawl.ScoreResult{}, fmt.Errorf("llm scorer misconfigured")
	}

	text := req.Text
	if len(text) > maxScoringChars {
		text = text[:maxScoringChars]
	}
	user := fmt.Sprintf("Topic: %s\nTitle: %s\nURL: %s\n\n%s", req.Topic, req.Title, req.URL, text)

	body, err := json.Marshal(map[string]any{
		"model": s.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": user},
		},
		"temperature": 0,
	})
	if err != nil {
		return crawl.ScoreResult{}, fmt.Errorf("marshal scoring payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return crawl.ScoreResult{}, fmt.Errorf("new scoring request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return crawl.ScoreResult{}, fmt.Errorf("scoring call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return crawl.ScoreResult{}, fmt.Errorf("scoring endpoint %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	return parseChatResponse(resp.Body)
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func parseChatResponse(r io.Reader) (crawl.ScoreResult, error) {
	var chat chatResponse
	if err := json.NewDecoder(r).Decode(&chat); err != nil {
		return crawl.ScoreResult{}, fmt.Errorf("decode scoring response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return crawl.ScoreResult{}, fmt.Errorf("scoring response has no choices")
	}
	content := extractJSONObject(chat.Choices[0].Message.Content)

	var result crawl.ScoreResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return crawl.ScoreResult{}, fmt.Errorf("unparseable scoring judgement: %w", err)
	}
	if result.Score < 0 || result.Score > 100 {
		return crawl.ScoreResult{}, fmt.Errorf("scoring judgement out of range: %d", result.Score)
	}
	return result, nil
}

// extractJSONObject trims prose or code fences the model may wrap around
// its JSON object.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}
