package pipeline

import (
	"fmt"
	"slices"
)

// Stage 流水线阶段名
type Stage string

const (
	StageSummary      Stage = "summary"
	StageInstruction  Stage = "instruction"
	StageOrchestrator Stage = "orchestrator"
	StageResearch     Stage = "research"
	StageSEO          Stage = "seo"
	StageOutline      Stage = "outline"
	StageWriting      Stage = "writing"
)

func (s Stage) String() string { return string(s) }

// Specialists 返回编排阶段驱动的专家阶段，按强制顺序
func Specialists() []Stage {
	return []Stage{StageResearch, StageSEO, StageOutline, StageWriting}
}

type node struct {
	predecessors []Stage
	successors   []Stage
}

// Graph 是不可变的阶段图：阶段 → 允许的前驱与后继。
// 专家阶段只能与编排阶段互相交接，不能直接交接给另一个专家。
type Graph struct {
	nodes map[Stage]node
	order []Stage
}

// NewGraph 构建默认阶段图。构建后不再修改。
func NewGraph() *Graph {
	specialists := Specialists()
	nodes := map[Stage]node{
		StageSummary:     {successors: []Stage{StageInstruction}},
		StageInstruction: {predecessors: []Stage{StageSummary}, successors: []Stage{StageOrchestrator}},
		StageOrchestrator: {
			predecessors: append([]Stage{StageInstruction}, specialists...),
			successors:   specialists,
		},
	}
	for _, s := range specialists {
		nodes[s] = node{
			predecessors: []Stage{StageOrchestrator},
			successors:   []Stage{StageOrchestrator},
		}
	}

	g := &Graph{nodes: nodes, order: specialists}
	if err := g.validate(); err != nil {
		panic(err)
	}
	return g
}

func (g *Graph) validate() error {
	for from, n := range g.nodes {
		for _, to := range n.successors {
			target, ok := g.nodes[to]
			if !ok {
				return fmt.Errorf("stage %s: unknown successor %s", from, to)
			}
			if !slices.Contains(target.predecessors, from) {
				return fmt.Errorf("stage %s → %s: missing predecessor edge", from, to)
			}
			if g.isSpecialist(from) && g.isSpecialist(to) {
				return fmt.Errorf("stage %s → %s: specialist-to-specialist handoff", from, to)
			}
		}
	}
	return nil
}

func (g *Graph) isSpecialist(s Stage) bool {
	return slices.Contains(g.order, s)
}

// CanHandoff reports whether control may pass from one stage to another.
func (g *Graph) CanHandoff(from, to Stage) bool {
	n, ok := g.nodes[from]
	return ok && slices.Contains(n.successors, to)
}

// Successors 返回副本
func (g *Graph) Successors(s Stage) []Stage {
	return slices.Clone(g.nodes[s].successors)
}

// Predecessors 返回副本
func (g *Graph) Predecessors(s Stage) []Stage {
	return slices.Clone(g.nodes[s].predecessors)
}

// SpecialistOrder 返回编排阶段调用专家的顺序（副本）
func (g *Graph) SpecialistOrder() []Stage {
	return slices.Clone(g.order)
}
