package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/BaSui01/inkflow/types"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(promptFS, "prompts/*.tmpl"),
)

// Snapshot 是某个阶段看到的不可变上下文。阶段之间通过返回新的 Snapshot
// 传递结果，不共享可变状态。
type Snapshot struct {
	DocumentID   string
	Metadata     types.DocumentMetadata
	Content      string
	Instructions string
	History      []types.ChatMessage

	UserMessage string
	Task        string
	Directives  string
	Scope       []string

	Research      string
	SEO           string
	Outline       string
	Draft         string
	SearchResults string

	// Feedback 上一次输出的校验失败原因，仅在细化时非空
	Feedback string
}

// IsEdit reports whether the document already has content.
func (s Snapshot) IsEdit() bool {
	return strings.TrimSpace(s.Content) != ""
}

// clone 深拷贝切片字段，保证返回值与原值互不影响
func (s Snapshot) clone() Snapshot {
	s.Metadata.Keywords = slices.Clone(s.Metadata.Keywords)
	s.History = slices.Clone(s.History)
	s.Scope = slices.Clone(s.Scope)
	return s
}

// BuildPrompt 根据阶段与快照生成阶段说明。纯函数，不读取任何共享状态。
func BuildPrompt(stage Stage, snap Snapshot) (string, error) {
	name := string(stage) + ".tmpl"
	if prompts.Lookup(name) == nil {
		return "", fmt.Errorf("no prompt template for stage %q", stage)
	}
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, snap.clone()); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", stage, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FirstDraftTask 新文档首稿的任务描述
func FirstDraftTask(meta types.DocumentMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create the first complete draft of %q.\n", meta.Title)
	if meta.Description != "" {
		fmt.Fprintf(&b, "It should cover: %s\n", meta.Description)
	}
	fmt.Fprintf(&b, "Write for %s in a %s tone, %d-%d words.\n",
		orDefault(meta.Audience, "a general audience"),
		orDefault(meta.Tone, "neutral"),
		meta.LengthMin, meta.LengthMax)
	if len(meta.Keywords) > 0 {
		fmt.Fprintf(&b, "Use these keywords naturally: %s.\n", strings.Join(meta.Keywords, ", "))
	}
	b.WriteString("Organize the content with headings and output markdown.")
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
