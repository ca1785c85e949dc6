// Package mocks 提供生成服务与搜索服务的测试替身。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/inkflow/llm"
	"github.com/BaSui01/inkflow/llm/tools"
)

// DefaultStageResponses 每个阶段一份合法输出
var DefaultStageResponses = map[string]string{
	"summary":      `{"update_required": false, "instruction": ""}`,
	"instruction":  `{"prompt": "Tighten the introduction", "sections": ["Introduction"], "directives": "Keep every other section unchanged."}`,
	"research":     `{"queries": ["go worker pool patterns"]}`,
	"seo":          `{"focus_keyword": "go concurrency", "primary_keywords": ["go"], "secondary_keywords": [], "long_tail_keywords": [], "meta_title": "Go Concurrency", "meta_description": "Bounded pools", "slug": "go-concurrency", "h1": "Go Concurrency", "h2_suggestions": ["Introduction"], "faq": []}`,
	"outline":      `{"title": "Go Concurrency", "sections": [{"heading": "Introduction"}, {"heading": "Worker Pools"}]}`,
	"writing":      `{"content": "# Go Concurrency\n\n## Introduction\n\nDraft.", "notes": ""}`,
	"orchestrator": `{"content": "# Go Concurrency\n\n## Introduction\n\nFinal.", "summary": "Wrote the first draft."}`,
}

// researchSummary 研究阶段第二次调用（总结）的默认输出
const researchSummary = `{"findings": [{"summary": "errgroup bounds goroutines", "url": "https://pkg.go.dev/golang.org/x/sync/errgroup"}]}`

// MockGenerator 按阶段脚本化的生成服务。
// 每个阶段的响应按队列依次取出；队列耗尽后使用默认响应。
type MockGenerator struct {
	mu       sync.Mutex
	queues   map[string][]string
	errs     map[string][]error
	calls    []llm.StageRequest
	research int
	hook     func(req llm.StageRequest)
}

// NewMockGenerator creates a generator answering with DefaultStageResponses.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		queues: make(map[string][]string),
		errs:   make(map[string][]error),
	}
}

// Enqueue 为阶段追加脚本化响应
func (m *MockGenerator) Enqueue(stage string, responses ...string) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[stage] = append(m.queues[stage], responses...)
	return m
}

// FailWith 为阶段追加错误；错误先于响应被消费
func (m *MockGenerator) FailWith(stage string, errs ...error) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[stage] = append(m.errs[stage], errs...)
	return m
}

// OnCall 注册每次调用前的回调
func (m *MockGenerator) OnCall(fn func(req llm.StageRequest)) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

func (m *MockGenerator) Generate(ctx context.Context, req llm.StageRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls = append(m.calls, req)
	hook := m.hook
	if errs := m.errs[req.Stage]; len(errs) > 0 {
		m.errs[req.Stage] = errs[1:]
		m.mu.Unlock()
		return "", errs[0]
	}
	if q := m.queues[req.Stage]; len(q) > 0 {
		m.queues[req.Stage] = q[1:]
		m.mu.Unlock()
		if hook != nil {
			hook(req)
		}
		return q[0], nil
	}
	resp, ok := DefaultStageResponses[req.Stage]
	if req.Stage == "research" {
		// 研究阶段交替：计划、总结
		if m.research%2 == 1 {
			resp = researchSummary
		}
		m.research++
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if !ok {
		return "", fmt.Errorf("mock generator: no response for stage %q", req.Stage)
	}
	return resp, nil
}

// Calls returns a copy of recorded requests.
func (m *MockGenerator) Calls() []llm.StageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.StageRequest(nil), m.calls...)
}

// Stages returns the stage of every recorded call in order.
func (m *MockGenerator) Stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Stage
	}
	return out
}

// MockSearchProvider 计数的搜索服务
type MockSearchProvider struct {
	mu      sync.Mutex
	Results []tools.WebSearchResult
	errs    []error
	queries []string
}

// NewMockSearchProvider creates a provider returning one fixed result.
func NewMockSearchProvider() *MockSearchProvider {
	return &MockSearchProvider{Results: []tools.WebSearchResult{{
		Title:   "errgroup",
		URL:     "https://pkg.go.dev/golang.org/x/sync/errgroup",
		Snippet: "Package errgroup provides synchronization for groups of goroutines.",
	}}}
}

// FailWith 追加错误，依次在后续调用中返回
func (s *MockSearchProvider) FailWith(errs ...error) *MockSearchProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
	return s
}

func (s *MockSearchProvider) Search(ctx context.Context, query string, opts tools.WebSearchOptions) ([]tools.WebSearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return append([]tools.WebSearchResult(nil), s.Results...), nil
}

func (s *MockSearchProvider) Name() string { return "mock" }

// Queries returns the recorded queries.
func (s *MockSearchProvider) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}
