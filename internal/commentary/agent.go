// Package commentary asks a chat model for one neutral sentence about a set
// of quotes.
package commentary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"line-stock-bot/internal/logging"
)

type Config struct {
	Enabled    bool
	Model      string
	APIKey     string
	BaseURL    string
	ByAzure    bool
	APIVersion string
	Timeout    time.Duration
}

// generator is the slice of eino's chat model the agent calls.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type Agent struct {
	model          generator
	modelName      string
	timeout        time.Duration
	disabledReason string
	logger         *logging.Logger
}

const maxRunes = 120

const systemPrompt = `你是台股盤後助理。根據使用者提供的報價，用一句不超過六十字的繁體中文做中性摘要。
不要給投資建議，不要預測走勢，不要使用條列或表情符號。只輸出那一句話。`

func New(cfg Config, logger *logging.Logger) *Agent {
	logger = logger.Component("commentary")
	if !cfg.Enabled {
		return &Agent{disabledReason: "disabled by config", logger: logger}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.APIKey == "" || cfg.Model == "" {
		logger.Warn().Msg("commentary disabled: missing api key or model")
		return &Agent{disabledReason: "api_key or model missing", logger: logger}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	cm, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		ByAzure:    cfg.ByAzure,
		APIVersion: cfg.APIVersion,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		logger.Error().Err(err).Msg("commentary init failed")
		return &Agent{disabledReason: "init failed", logger: logger}
	}
	return newWithModel(cm, cfg.Model, cfg.Timeout, logger)
}

func newWithModel(g generator, name string, timeout time.Duration, logger *logging.Logger) *Agent {
	return &Agent{model: g, modelName: name, timeout: timeout, logger: logger}
}

func (a *Agent) Enabled() bool { return a != nil && a.model != nil }

// Summarize returns one line for the composed quote text, or "" when the
// agent is disabled or the model fails.
func (a *Agent) Summarize(ctx context.Context, quotes string) string {
	if !a.Enabled() || strings.TrimSpace(quotes) == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(fmt.Sprintf("報價：\n%s", quotes)),
	}
	resp, err := a.model.Generate(ctx, messages)
	if err != nil {
		a.logLLMError(err)
		return ""
	}
	return cleanLine(resp.Content)
}

// Status reports whether the model is in use, for the health endpoint.
func (a *Agent) Status() map[string]any {
	if !a.Enabled() {
		reason := "not configured"
		if a != nil && a.disabledReason != "" {
			reason = a.disabledReason
		}
		return map[string]any{"mode": "off", "reason": reason}
	}
	return map[string]any{"mode": "llm", "model": a.modelName}
}

// cleanLine keeps the first non-empty line and caps its length.
func cleanLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"「」")
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > maxRunes {
			return string(r[:maxRunes]) + "…"
		}
		return line
	}
	return ""
}

func (a *Agent) logLLMError(err error) {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		a.logger.Warn().Int("status", apiErr.HTTPStatusCode).Str("message", msg).Msg("commentary api error")
		return
	}
	a.logger.Warn().Err(err).Msg("commentary error")
}
