package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/llm"
	"github.com/BaSui01/inkflow/llm/tools"
	"github.com/BaSui01/inkflow/persistence"
	"github.com/BaSui01/inkflow/types"
)

// 活动名，同时是日志键的最后一段
const (
	ActivityCreateDocument   = "create_document"
	ActivityLoadDocument     = "load_document_details"
	ActivityPersistContent   = "persist_content"
	ActivityPersistMessage   = "persist_message"
	ActivityCreateCheckpoint = "create_checkpoint"
	ActivityWebSearch        = "web_search"
	ActivityGenerate         = "generate"
)

// CreateDocumentInput 创建文档的输入。ID 由执行 ID 与提交时间确定性派生。
type CreateDocumentInput struct {
	ID       string                 `json:"id"`
	OwnerID  string                 `json:"owner_id"`
	Metadata types.DocumentMetadata `json:"metadata"`
}

// DocumentDetails 文档及最近的对话轮次（时间升序）
type DocumentDetails struct {
	Document types.Document  `json:"document"`
	History  []types.Message `json:"history"`
}

// PersistContentInput 只写入非空字段
type PersistContentInput struct {
	DocumentID   string `json:"document_id"`
	Content      string `json:"content,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// PersistMessageInput 追加一轮对话；IdempotencyKey 防止重试时重复插入
type PersistMessageInput struct {
	DocumentID     string `json:"document_id"`
	UserText       string `json:"user_text"`
	AIText         string `json:"ai_text"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Activities 是协调器可调用的全部副作用操作。每个方法都可安全重跑。
type Activities struct {
	stores       *persistence.Stores
	generator    llm.Generator
	searcher     tools.WebSearchProvider
	searchOpts   tools.WebSearchOptions
	historyLimit int
	logger       *zap.Logger
}

// NewActivities 创建活动集合。searcher 为 nil 时网页搜索返回空结果。
func NewActivities(stores *persistence.Stores, generator llm.Generator, searcher tools.WebSearchProvider, historyLimit int, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		stores:       stores,
		generator:    generator,
		searcher:     searcher,
		searchOpts:   tools.DefaultWebSearchOptions(),
		historyLimit: historyLimit,
		logger:       logger.With(zap.String("component", "activities")),
	}
}

// WithSearchOptions 设置网页搜索参数
func (a *Activities) WithSearchOptions(opts tools.WebSearchOptions) *Activities {
	a.searchOpts = opts
	return a
}

func (a *Activities) CreateDocument(ctx context.Context, in CreateDocumentInput) (types.Document, error) {
	return a.stores.Documents.Create(ctx, types.Document{
		ID:       in.ID,
		OwnerID:  in.OwnerID,
		Metadata: in.Metadata,
	})
}

func (a *Activities) LoadDocumentDetails(ctx context.Context, documentID string) (DocumentDetails, error) {
	doc, err := a.stores.Documents.Load(ctx, documentID)
	if err != nil {
		return DocumentDetails{}, err
	}
	history, err := a.stores.Messages.ListRecent(ctx, documentID, a.historyLimit)
	if err != nil {
		return DocumentDetails{}, err
	}
	return DocumentDetails{Document: doc, History: history}, nil
}

func (a *Activities) PersistContent(ctx context.Context, in PersistContentInput) (types.Document, error) {
	return a.stores.Documents.UpdateContent(ctx, in.DocumentID, in.Content, in.Instructions)
}

func (a *Activities) PersistMessage(ctx context.Context, in PersistMessageInput) (types.Message, error) {
	return a.stores.Messages.Append(ctx, in.DocumentID, in.UserText, in.AIText, in.IdempotencyKey)
}

func (a *Activities) CreateCheckpoint(ctx context.Context, messageID string) (types.Checkpoint, error) {
	return a.stores.Checkpoints.Create(ctx, messageID)
}

func (a *Activities) WebSearch(ctx context.Context, query string) ([]tools.WebSearchResult, error) {
	if a.searcher == nil {
		a.logger.Debug("web search disabled, returning no results", zap.String("query", query))
		return []tools.WebSearchResult{}, nil
	}
	results, err := a.searcher.Search(ctx, query, a.searchOpts)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []tools.WebSearchResult{}
	}
	return results, nil
}

func (a *Activities) Generate(ctx context.Context, req llm.StageRequest) (string, error) {
	if a.generator == nil {
		return "", types.NewInternalError("no generation service configured")
	}
	return a.generator.Generate(ctx, req)
}

// activityInvoker 把流水线的副作用交给活动执行器
type activityInvoker struct {
	scope *Scope
	acts  *Activities
}

func (i activityInvoker) Generate(ctx context.Context, req llm.StageRequest) (string, error) {
	return Execute(ctx, i.scope, ActivityGenerate, req, func(ctx context.Context) (string, error) {
		return i.acts.Generate(ctx, req)
	})
}

func (i activityInvoker) Search(ctx context.Context, query string) ([]tools.WebSearchResult, error) {
	return Execute(ctx, i.scope, ActivityWebSearch, query, func(ctx context.Context) ([]tools.WebSearchResult, error) {
		return i.acts.WebSearch(ctx, query)
	})
}
