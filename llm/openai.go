package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/tlsutil"
	"github.com/BaSui01/inkflow/llm/tokenizer"
	"github.com/BaSui01/inkflow/types"
)

// OpenAIGenerator 基于 openai-go 的 Chat Completions 实现
type OpenAIGenerator struct {
	client        openai.Client
	model         string
	temperature   float64
	maxTokens     int
	contextWindow int
	counter       tokenizer.Counter
	usage         UsageObserver
	logger        *zap.Logger
}

// UsageObserver 接收每次请求的耗时与 token 用量
type UsageObserver interface {
	RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int64)
}

// OpenAIOption customizes the generator.
type OpenAIOption func(*OpenAIGenerator)

// WithTokenCounter 替换默认的 token 计数器
func WithTokenCounter(c tokenizer.Counter) OpenAIOption {
	return func(g *OpenAIGenerator) { g.counter = c }
}

// WithUsageObserver 记录请求耗时与 token 用量
func WithUsageObserver(o UsageObserver) OpenAIOption {
	return func(g *OpenAIGenerator) { g.usage = o }
}

// NewOpenAIGenerator 从配置创建生成器。SDK 自身的重试被关闭，
// 重试统一由活动执行器负责。
func NewOpenAIGenerator(cfg config.LLMConfig, logger *zap.Logger, opts ...OpenAIOption) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm.api_key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm.model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(tlsutil.SecureHTTPClient(0)),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}

	g := &OpenAIGenerator{
		client:        openai.NewClient(reqOpts...),
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		contextWindow: cfg.ContextWindow,
		logger:        logger.With(zap.String("component", "openai_generator")),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.counter == nil {
		g.counter = tokenizer.ForModel(cfg.Model, logger)
	}
	return g, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req StageRequest) (string, error) {
	conversation := make([]types.ChatMessage, 0, len(req.History)+2)
	conversation = append(conversation, types.ChatMessage{Role: types.RoleSystem, Content: req.Instructions})
	conversation = append(conversation, req.History...)
	conversation = append(conversation, types.ChatMessage{Role: types.RoleUser, Content: req.Input})

	promptTokens, err := tokenizer.CountMessages(g.counter, conversation)
	if err == nil && g.contextWindow > 0 && promptTokens > g.contextWindow {
		return "", types.NewValidationError(fmt.Sprintf(
			"prompt for stage %s has %d tokens, exceeds context window %d",
			req.Stage, promptTokens, g.contextWindow))
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation))
	for _, m := range conversation {
		switch m.Role {
		case types.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case types.RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: msgs,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(g.maxTokens))
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		mapped := g.mapError(err)
		g.observe(mapped, time.Since(start), 0, 0)
		return "", mapped
	}
	if len(resp.Choices) == 0 {
		err := types.NewTransientError("openai returned no choices", nil)
		g.observe(err, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return "", err
	}
	g.observe(nil, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.logger.Debug("stage generated",
		zap.String("stage", req.Stage),
		zap.Int("prompt_tokens_estimate", promptTokens),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)),
	)
	return content, nil
}

func (g *OpenAIGenerator) observe(err error, d time.Duration, prompt, completion int64) {
	if g.usage == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = strings.ToLower(string(types.GetErrorCode(err)))
		if status == "" {
			status = "error"
		}
	}
	g.usage.RecordLLMRequest(g.model, status, d, prompt, completion)
}

func (g *OpenAIGenerator) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return MapHTTPError(apiErr.StatusCode, apiErr.Message, "openai").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return types.NewTransientError("openai request failed", err)
}
