// Package generate provides the client for the external text-generation
// service that turns retrieved context into a final answer.
package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Generator produces an answer from context and question.
type Generator interface {
	Generate(ctx context.Context, contextBlock, question string) (string, error)

	// GenerateStream delivers the answer as incremental fragments. The
	// callback returning an error aborts the stream.
	GenerateStream(ctx context.Context, contextBlock, question string, fn func(fragment string) error) error
}

// DefaultPromptTemplate is the expert prompt for the Russian
// formatting-manual domain. The two %s verbs receive context and question.
const DefaultPromptTemplate = `Ты эксперт в области оформления курсовых проектов и выпускных квалификационных работ.
Дай ответ, учитывая доступную тебе информацию из документа и, если указан, ГОСТ по оформлению в области российского образования.
В первую очередь предоставляй информацию об оформлении документа, если в вопросе не указано иное. Если информации не хватает, не придумывай её и не добавляй ту информацию, которая не связана с вопросом.

Documentation:
%s

Question: %s

Answer (уточняй, приводи конкретные цифры и значения, когда это возможно):`

// Config configures the Ollama-backed generator.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Prompt      string        `yaml:"prompt"`
}

// OllamaGenerator calls an Ollama /api/generate endpoint.
type OllamaGenerator struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewOllamaGenerator creates the generator client.
func NewOllamaGenerator(cfg Config, logger *zap.Logger) *OllamaGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPromptTemplate
	}
	return &OllamaGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "generator")),
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaGenerator) post(ctx context.Context, contextBlock, question string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:   g.cfg.Model,
		Prompt:  fmt.Sprintf(g.cfg.Prompt, contextBlock, question),
		Stream:  stream,
		Options: map[string]any{"temperature": g.cfg.Temperature},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(g.cfg.BaseURL, "/")+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("generation service error: status=%d body=%s", resp.StatusCode, string(raw))
	}
	return resp, nil
}

// Generate returns the complete answer in one call.
func (g *OllamaGenerator) Generate(ctx context.Context, contextBlock, question string) (string, error) {
	resp, err := g.post(ctx, contextBlock, question, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	return parsed.Response, nil
}

// GenerateStream reads the line-delimited JSON stream and forwards each
// fragment to the callback.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, contextBlock, question string, fn func(string) error) error {
	resp, err := g.post(ctx, contextBlock, question, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var parsed ollamaResponse
		if err := json.Unmarshal(line, &parsed); err != nil {
			return fmt.Errorf("decode stream fragment: %w", err)
		}
		if parsed.Response != "" {
			if err := fn(parsed.Response); err != nil {
				return err
			}
		}
		if parsed.Done {
			break
		}
	}
	return scanner.Err()
}
