package pipeline

import (
	"context"

	"github.com/BaSui01/inkflow/llm"
	"github.com/BaSui01/inkflow/llm/tools"
)

// DirectInvoker 直接调用生成与搜索服务，不经过活动执行器。
// 用于测试与不需要持久化的一次性运行。
type DirectInvoker struct {
	Generator llm.Generator
	Searcher  tools.WebSearchProvider
	Options   tools.WebSearchOptions
}

func (d DirectInvoker) Generate(ctx context.Context, req llm.StageRequest) (string, error) {
	return d.Generator.Generate(ctx, req)
}

func (d DirectInvoker) Search(ctx context.Context, query string) ([]tools.WebSearchResult, error) {
	return d.Searcher.Search(ctx, query, d.Options)
}
