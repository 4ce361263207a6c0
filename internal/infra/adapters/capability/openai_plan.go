package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/logging"
)

var _ adapter.CapabilityProvider = (*OpenAIPlanProvider)(nil)

// OpenAIPlanProvider writes plans with the Chat Completions API. Prompts are
// cut to maxPromptTokens before sending.
type OpenAIPlanProvider struct {
	client          openai.Client
	model           string
	maxPromptTokens int
	enc             *tiktoken.Tiktoken
	log             *zerolog.Logger
}

func NewOpenAIPlanProvider(apiKey, baseURL, model string, maxPromptTokens int, logger *zerolog.Logger) (*OpenAIPlanProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	p := &OpenAIPlanProvider{
		client:          openai.NewClient(opts...),
		model:           model,
		maxPromptTokens: maxPromptTokens,
		log:             logging.Component(logger, "OpenAIPlanProvider"),
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("no tokenizer, prompts are sent untrimmed")
	} else {
		p.enc = enc
	}
	return p, nil
}

func (p *OpenAIPlanProvider) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	in, err := decodePlan(req)
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	prompt := p.trim(planPrompt(in))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(planInstruction),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return adapter.CapabilityResult{}, classifyOpenAI(err)
	}
	text := ""
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			text = c.Message.Content
			break
		}
	}
	if text == "" {
		return adapter.CapabilityResult{}, adapter.Transient(errors.New("openai: no choice content"))
	}
	topic := in.Topic
	if topic == "" {
		topic = in.Prompt
	}
	out, err := adapter.EncodeOutput(PlanOutput{Topic: topic, Text: text, Model: p.model})
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	return adapter.CapabilityResult{Output: out, Backend: "openai"}, nil
}

// trim keeps at most maxPromptTokens tokens of s.
func (p *OpenAIPlanProvider) trim(s string) string {
	if p.enc == nil || p.maxPromptTokens <= 0 {
		return s
	}
	tokens := p.enc.Encode(s, nil, nil)
	if len(tokens) <= p.maxPromptTokens {
		return s
	}
	p.log.Debug().Int("tokens", len(tokens)).Int("max", p.maxPromptTokens).Msg("prompt trimmed")
	return p.enc.Decode(tokens[:p.maxPromptTokens])
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(apiErr.StatusCode, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return adapter.Transient(fmt.Errorf("openai: %w", err))
}
