package llm

import (
	"context"

	"github.com/BaSui01/inkflow/types"
)

// StageRequest 是一次阶段生成调用的输入
type StageRequest struct {
	// Stage 阶段名，仅用于日志与指标
	Stage string `json:"stage"`
	// Instructions 阶段说明（系统提示词）
	Instructions string `json:"instructions"`
	// History 之前的对话轮次，按时间升序
	History []types.ChatMessage `json:"history,omitempty"`
	// Input 本轮用户输入
	Input string `json:"input"`
}

// Generator 生成服务。返回值是模型输出的原始 JSON 文本，
// 由调用方按阶段 schema 解码与校验。
type Generator interface {
	Generate(ctx context.Context, req StageRequest) (string, error)
}

// GeneratorFunc 把普通函数适配为 Generator
type GeneratorFunc func(ctx context.Context, req StageRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req StageRequest) (string, error) {
	return f(ctx, req)
}
