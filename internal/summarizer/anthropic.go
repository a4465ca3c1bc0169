package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/containerd/errdefs"

	"analytics-orchestrator/internal/shared/model"
)

// DefaultModel 默认摘要模型
const DefaultModel = "claude-3-haiku-20240307"

const systemPrompt = `You condense the history of an analytics assistant session.
Given numbered exchanges, write one dense paragraph that keeps the user's goals,
the entities and numbers that were discussed, and any conclusions reached.
Do not add commentary. Stay strictly within the requested character limit.`

// Anthropic 基于 Claude 的摘要器
type Anthropic struct {
	cfg    Config
	client anthropic.Client
}

// NewAnthropic 创建 Anthropic 摘要器
//
// SDK 自身的重试被关闭，重试与熔断统一由弹性层负责。
func NewAnthropic(cfg *Config, opts ...option.RequestOption) (*Anthropic, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, errors.New("anthropic summarizer: ANTHROPIC_API_KEY is not set")
	}
	base := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	return &Anthropic{
		cfg:    *cfg,
		client: anthropic.NewClient(append(base, opts...)...),
	}, nil
}

// Name 名称
func (a *Anthropic) Name() string {
	return ProviderAnthropic
}

// Summarize 生成摘要
func (a *Anthropic) Summarize(ctx context.Context, entries []model.Entry, limit int) (string, error) {
	if limit <= 0 || len(entries) == 0 {
		return "", nil
	}
	var content strings.Builder
	fmt.Fprintf(&content, "Character limit: %d\n\n", limit)
	for _, e := range entries {
		content.WriteString(e.Render())
		content.WriteString("\n")
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content.String())),
		},
	})
	if err != nil {
		return "", classifyAPIError(err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("anthropic summarizer: empty response: %w", errdefs.ErrUnavailable)
	}
	return model.Truncate(text, limit), nil
}

// classifyAPIError 限流和服务端错误视为瞬时错误，其余 4xx 为永久错误
func classifyAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("anthropic summarizer: %w: %w", errdefs.ErrUnavailable, err)
		}
		if apiErr.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("anthropic summarizer: %w: %w", errdefs.ErrInvalidArgument, err)
		}
		return fmt.Errorf("anthropic summarizer: %w: %w", errdefs.ErrFailedPrecondition, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("anthropic summarizer: %w: %w", errdefs.ErrUnavailable, err)
}
