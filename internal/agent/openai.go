package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/errors"
)

// DefaultTimeout bounds a request when the config leaves it unset.
const DefaultTimeout = 60 * time.Second

// OpenAIConfig configures an OpenAIProducer.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// ConfigFrom builds an OpenAIConfig from application config. model
// overrides cfg.AgentModel when non-empty.
func ConfigFrom(cfg *config.Config, model string) OpenAIConfig {
	if model == "" {
		model = cfg.AgentModel
	}
	return OpenAIConfig{
		APIKey:  cfg.APIKey(),
		Model:   model,
		BaseURL: cfg.AgentBaseURL,
		Timeout: cfg.AgentTimeout(),
	}
}

// OpenAIProducer proposes operations through the OpenAI chat completions
// API or any compatible gateway.
type OpenAIProducer struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *logrus.Entry
}

// NewOpenAIProducer returns a producer for cfg. A nil log discards output.
func NewOpenAIProducer(cfg OpenAIConfig, log *logrus.Entry) *OpenAIProducer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &OpenAIProducer{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		log:    log.WithField("model", cfg.Model),
	}
}

// Propose sends the system prompt and transcript and parses the reply.
func (p *OpenAIProducer) Propose(ctx context.Context, req Request) (*Response, error) {
	if p.cfg.APIKey == "" {
		return nil, errors.NewAgentAuth(fmt.Errorf("no API key configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: BuildSystemPrompt(req.Tree, req.Tagged),
	})
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          p.cfg.Model,
		Messages:       messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		p.log.WithError(err).Warn("agent request failed")
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.NewAgentUnavailable(fmt.Errorf("no choices in response"))
	}

	parsed := ParseResponse(resp.Choices[0].Message.Content)
	p.log.WithFields(logrus.Fields{
		"operations": len(parsed.Operations),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("agent response")
	return parsed, nil
}

// classify maps provider failures to credential errors (the request was
// rejected as unauthorized or malformed) or availability errors (anything
// else, including network failures and quota exhaustion).
func classify(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return errors.NewCancelled("agent request")
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case stderrors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case stderrors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return errors.NewAgentAuth(err)
	}
	return errors.NewAgentUnavailable(err)
}
