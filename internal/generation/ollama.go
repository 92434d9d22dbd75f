package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/rag"
	"github.com/scenepilot/scenepilot/pkg/models"
)

const systemPrompt = `You answer questions about a dental implant-planning scene.
Answer only from the context below. If the context does not contain the answer,
reply exactly: I don't know. Keep the answer under three sentences.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OllamaGenerator phrases retrieval-grounded answers with a local LLM through
// Ollama's OpenAI-compatible chat endpoint. Everything else, and every LLM
// failure, goes to the template generator.
type OllamaGenerator struct {
	endpoint        string
	model           string
	maxContextChars int
	client          *http.Client
	fallback        *TemplateGenerator
}

// OllamaOption configures the generator.
type OllamaOption func(*OllamaGenerator)

// WithHTTPClient replaces the HTTP client (timeouts, tests).
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(g *OllamaGenerator) { g.client = c }
}

// WithMaxContextChars bounds the retrieved context put into the prompt.
func WithMaxContextChars(n int) OllamaOption {
	return func(g *OllamaGenerator) {
		if n > 0 {
			g.maxContextChars = n
		}
	}
}

// NewOllamaGenerator creates an LLM-backed generator.
func NewOllamaGenerator(endpoint, model string, opts ...OllamaOption) *OllamaGenerator {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	g := &OllamaGenerator{
		endpoint:        strings.TrimRight(endpoint, "/"),
		model:           model,
		maxContextChars: 3500,
		client:          &http.Client{Timeout: 30 * time.Second},
		fallback:        NewTemplateGenerator(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *OllamaGenerator) Kind() string { return "ollama" }

// Generate calls the LLM only for info answers that carry retrieved sources.
func (g *OllamaGenerator) Generate(ctx context.Context, d *models.RoutingDecision, query string) (string, error) {
	if d == nil || d.Action != models.ActionInfo || d.Answer != "" || len(d.Sources) == 0 {
		return g.fallback.Generate(ctx, d, query)
	}
	answer, err := g.chat(ctx, rag.BuildContext(d.Sources, g.maxContextChars), query)
	if err != nil {
		log.Warn().Err(err).Str("model", g.model).Msg("LLM generation failed, using template")
		return g.fallback.Generate(ctx, d, query)
	}
	return answer, nil
}

func (g *OllamaGenerator) chat(ctx context.Context, contextText, query string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt + "\n\nContext:\n" + contextText},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("ollama: empty completion")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
