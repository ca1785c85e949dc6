package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validator 阶段输出的结构校验
type Validator interface {
	Validate() error
}

// SummaryOutput 决定是否更新文档的长期偏好说明
type SummaryOutput struct {
	UpdateRequired bool   `json:"update_required"`
	Instruction    string `json:"instruction"`
}

func (o SummaryOutput) Validate() error {
	if o.UpdateRequired && strings.TrimSpace(o.Instruction) == "" {
		return errors.New("instruction: required when update_required is true")
	}
	return nil
}

// InstructionOutput 增强后的提示、编辑范围与本次任务的严格指令
type InstructionOutput struct {
	Prompt     string   `json:"prompt"`
	Sections   []string `json:"sections"`
	Directives string   `json:"directives"`
}

func (o InstructionOutput) Validate() error {
	for i, s := range o.Sections {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("sections[%d]: must not be empty", i)
		}
	}
	return nil
}

// ResearchPlan 研究阶段的检索计划
type ResearchPlan struct {
	Queries []string `json:"queries"`
}

func (o ResearchPlan) Validate() error {
	if len(o.Queries) == 0 {
		return errors.New("queries: at least one query is required")
	}
	for i, q := range o.Queries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("queries[%d]: must not be empty", i)
		}
	}
	return nil
}

// ResearchFinding 一条带来源的研究摘要
type ResearchFinding struct {
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// ResearchOutput 研究阶段输出
type ResearchOutput struct {
	Findings []ResearchFinding `json:"findings"`
}

func (o ResearchOutput) Validate() error {
	for i, f := range o.Findings {
		if strings.TrimSpace(f.Summary) == "" {
			return fmt.Errorf("findings[%d].summary: required", i)
		}
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("findings[%d].url: required", i)
		}
	}
	return nil
}

// FAQ 问答对
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SEOOutput SEO 阶段输出
type SEOOutput struct {
	FocusKeyword      string   `json:"focus_keyword"`
	PrimaryKeywords   []string `json:"primary_keywords"`
	SecondaryKeywords []string `json:"secondary_keywords"`
	LongTailKeywords  []string `json:"long_tail_keywords"`
	MetaTitle         string   `json:"meta_title"`
	MetaDescription   string   `json:"meta_description"`
	Slug              string   `json:"slug"`
	H1                string   `json:"h1"`
	H2Suggestions     []string `json:"h2_suggestions"`
	FAQ               []FAQ    `json:"faq"`
}

func (o SEOOutput) Validate() error {
	var errs []error
	if strings.TrimSpace(o.FocusKeyword) == "" {
		errs = append(errs, errors.New("focus_keyword: required"))
	}
	if strings.TrimSpace(o.MetaTitle) == "" {
		errs = append(errs, errors.New("meta_title: required"))
	}
	if strings.TrimSpace(o.H1) == "" {
		errs = append(errs, errors.New("h1: required"))
	}
	if strings.ContainsAny(o.Slug, " /?#") {
		errs = append(errs, fmt.Errorf("slug: %q is not url-safe", o.Slug))
	}
	for i, f := range o.FAQ {
		if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
			errs = append(errs, fmt.Errorf("faq[%d]: question and answer are required", i))
		}
	}
	return errors.Join(errs...)
}

// OutlineSection 大纲中的一节
type OutlineSection struct {
	Heading     string   `json:"heading"`
	Subheadings []string `json:"subheadings,omitempty"`
	KeyPoints   []string `json:"key_points,omitempty"`
}

// OutlineOutput 大纲阶段输出
type OutlineOutput struct {
	Title    string           `json:"title"`
	Sections []OutlineSection `json:"sections"`
}

func (o OutlineOutput) Validate() error {
	if strings.TrimSpace(o.Title) == "" {
		return errors.New("title: required")
	}
	if len(o.Sections) == 0 {
		return errors.New("sections: at least one section is required")
	}
	for i, s := range o.Sections {
		if strings.TrimSpace(s.Heading) == "" {
			return fmt.Errorf("sections[%d].heading: required", i)
		}
	}
	return nil
}

// WritingOutput 写作阶段输出
type WritingOutput struct {
	Content string `json:"content"`
	Notes   string `json:"notes"`
}

func (o WritingOutput) Validate() error {
	if strings.TrimSpace(o.Content) == "" {
		return errors.New("content: required")
	}
	return nil
}

// OrchestratorOutput 编排阶段的最终结果：完整文档与本次改动摘要
type OrchestratorOutput struct {
	Content string `json:"content"`
	Summary string `json:"summary"`
}

func (o OrchestratorOutput) Validate() error {
	var errs []error
	if strings.TrimSpace(o.Content) == "" {
		errs = append(errs, errors.New("content: required"))
	}
	if strings.TrimSpace(o.Summary) == "" {
		errs = append(errs, errors.New("summary: required"))
	}
	return errors.Join(errs...)
}

// UnmarshalJSON 兼容裸数组 [{summary,url}] 与 {"findings":[...]} 两种形态
func (o *ResearchOutput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &o.Findings)
	}
	type plain ResearchOutput
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = ResearchOutput(p)
	return nil
}
