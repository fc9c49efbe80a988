package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// HTTPLLMVendorConfig configures a generic HTTP JSON completion vendor:
// one request per Complete/StreamComplete call, with NDJSON or SSE
// streaming bodies handled transparently.
type HTTPLLMVendorConfig struct {
	Name          string
	BaseURL       string
	APIKey        string
	Model         string
	Priority      int
	SearchModel   string // cheaper/smaller model used only for DetectSearchNeeded
	RequestTimeout time.Duration
}

// HTTPLLMVendorAdapter implements LLMAdapter against a single HTTP vendor
// that accepts a JSON {model, messages} body and replies with either a
// single JSON object or a streamed NDJSON/SSE body of {"text": "..."} deltas.
type HTTPLLMVendorAdapter struct {
	cfg    HTTPLLMVendorConfig
	client *http.Client
}

func NewHTTPLLMVendorAdapter(cfg HTTPLLMVendorConfig) *HTTPLLMVendorAdapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &HTTPLLMVendorAdapter{cfg: cfg, client: &http.Client{Timeout: cfg.RequestTimeout}}
}

func (a *HTTPLLMVendorAdapter) Name() string  { return a.cfg.Name }
func (a *HTTPLLMVendorAdapter) Priority() int { return a.cfg.Priority }

func (a *HTTPLLMVendorAdapter) HealthCheck(ctx context.Context) (bool, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return false, fmt.Errorf("%s: missing api key", a.cfg.Name)
	}
	_, err := a.complete(ctx, a.cfg.Model, []Message{{Role: "user", Content: "ping"}}, 5*time.Second)
	return err == nil, err
}

func (a *HTTPLLMVendorAdapter) Complete(ctx context.Context, messages []Message) (string, error) {
	return a.complete(ctx, a.cfg.Model, messages, a.cfg.RequestTimeout)
}

func (a *HTTPLLMVendorAdapter) complete(ctx context.Context, model string, messages []Message, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out strings.Builder
	_, err := a.stream(ctx, model, messages, func(delta string) error {
		out.WriteString(delta)
		return nil
	})
	return out.String(), err
}

func (a *HTTPLLMVendorAdapter) StreamComplete(ctx context.Context, messages []Message) (<-chan Token, error) {
	return a.streamToChannel(ctx, a.cfg.Model, messages)
}

func (a *HTTPLLMVendorAdapter) StreamCompleteWithContext(ctx context.Context, messages []Message, searchContext, citation string) (<-chan Token, error) {
	augmented := make([]Message, 0, len(messages)+1)
	augmented = append(augmented, messages...)
	if strings.TrimSpace(searchContext) != "" {
		sys := "Use the following search context to answer. " + searchContext
		if strings.TrimSpace(citation) != "" {
			sys += " Naturally mention sources: " + citation
		}
		augmented = append(augmented, Message{Role: "system", Content: sys})
	}
	return a.streamToChannel(ctx, a.cfg.Model, augmented)
}

func (a *HTTPLLMVendorAdapter) streamToChannel(ctx context.Context, model string, messages []Message) (<-chan Token, error) {
	tokens := make(chan Token, 32)
	go func() {
		defer close(tokens)
		_, err := a.stream(ctx, model, messages, func(delta string) error {
			tokens <- Token{Text: delta}
			return nil
		})
		if err != nil {
			return
		}
		tokens <- Token{Done: true}
	}()
	return tokens, nil
}

var searchYesNoPattern = regexp.MustCompile(`(?is)search:\s*(yes|no).*?query:\s*(.*)`)

// DetectSearchNeeded asks a strict two-line SEARCH/QUERY question of a
// (typically cheaper) model and parses the answer leniently.
func (a *HTTPLLMVendorAdapter) DetectSearchNeeded(ctx context.Context, transcript string) (bool, string, error) {
	if !hasTemporalKeyword(transcript) {
		return false, "", nil
	}

	model := a.cfg.SearchModel
	if strings.TrimSpace(model) == "" {
		model = a.cfg.Model
	}
	prompt := []Message{
		{Role: "system", Content: "Answer in exactly two lines: 'SEARCH: YES' or 'SEARCH: NO', then 'QUERY: <search query>'."},
		{Role: "user", Content: transcript},
	}
	text, err := a.complete(ctx, model, prompt, 5*time.Second)
	if err != nil {
		return false, "", err
	}
	m := searchYesNoPattern.FindStringSubmatch(text)
	if m == nil {
		return false, "", nil
	}
	needed := strings.EqualFold(strings.TrimSpace(m[1]), "yes")
	query := strings.TrimSpace(strings.SplitN(m[2], "\n", 2)[0])
	if !needed {
		return false, "", nil
	}
	return true, query, nil
}

var temporalKeywords = []string{"weather", "time", "today", "now", "current", "latest", "news", "happened", "recent", "update"}

func hasTemporalKeyword(transcript string) bool {
	lower := strings.ToLower(transcript)
	for _, kw := range temporalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// stream issues the HTTP request and dispatches the response body to
// onDelta, regardless of whether the vendor answered with a single JSON
// object, NDJSON, or SSE.
func (a *HTTPLLMVendorAdapter) stream(ctx context.Context, model string, messages []Message, onDelta func(string) error) (string, error) {
	body, err := json.Marshal(map[string]any{"model": model, "messages": messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	res, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("%s http status %d: %s", a.cfg.Name, res.StatusCode, string(errBody))
	}

	contentType := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "text/event-stream"):
		return a.consumeSSE(res.Body, onDelta)
	case strings.Contains(contentType, "ndjson"):
		return a.consumeNDJSON(res.Body, onDelta)
	default:
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		text := extractText(raw)
		if text != "" {
			if err := onDelta(text); err != nil {
				return "", err
			}
		}
		return text, nil
	}
}

func (a *HTTPLLMVendorAdapter) consumeNDJSON(body io.Reader, onDelta func(string) error) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		delta := extractText([]byte(line))
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return out.String(), err
		}
	}
	return out.String(), scanner.Err()
}

func (a *HTTPLLMVendorAdapter) consumeSSE(body io.Reader, onDelta func(string) error) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || strings.EqualFold(payload, "[DONE]") {
			continue
		}
		delta := extractText([]byte(payload))
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return out.String(), err
		}
	}
	return out.String(), scanner.Err()
}

func extractText(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"text", "delta", "content", "output", "message"} {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
