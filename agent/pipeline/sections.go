package pipeline

import (
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ScopeAll 表示编辑范围覆盖全文
const ScopeAll = "all"

// Heading 一个 markdown 标题
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

var markdown = goldmark.New()

// Headings 按出现顺序返回 markdown 中的所有标题
func Headings(content string) []Heading {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var out []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if t := strings.TrimSpace(inlineText(h, src)); t != "" {
			out = append(out, Heading{Level: h.Level, Text: t})
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(inlineText(c, src))
		}
	}
	return b.String()
}

// ResolveScope 决定本次编辑的章节范围：
//   - 调用方给出的章节原样使用，不推断也不追加；
//   - 否则使用指令阶段推断的章节，按现有标题规范化（未知章节保留，写作阶段可能新增）；
//   - 否则空文档默认全文。
func ResolveScope(callerSections, inferred []string, content string) []string {
	if len(callerSections) > 0 {
		return slices.Clone(callerSections)
	}
	if len(inferred) > 0 {
		return canonicalSections(inferred, Headings(content))
	}
	if strings.TrimSpace(content) == "" {
		return []string{ScopeAll}
	}
	return nil
}

func canonicalSections(names []string, headings []Heading) []string {
	index := make(map[string]string, len(headings))
	for _, h := range headings {
		key := sectionKey(h.Text)
		if _, ok := index[key]; !ok {
			index[key] = h.Text
		}
	}

	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := sectionKey(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if canonical, ok := index[key]; ok {
			out = append(out, canonical)
		} else {
			out = append(out, strings.TrimSpace(name))
		}
	}
	return out
}

func sectionKey(s string) string {
	s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "#"))
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
