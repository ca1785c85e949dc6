package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleDoc = `# Practical Go Concurrency

Intro paragraph.

## Introduction

Why bounded pools.

## Worker *Pools* with ` + "`errgroup`" + `

Details.

### Error handling

Text.
`

func TestHeadings(t *testing.T) {
	got := Headings(sampleDoc)
	assert.Equal(t, []Heading{
		{Level: 1, Text: "Practical Go Concurrency"},
		{Level: 2, Text: "Introduction"},
		{Level: 2, Text: "Worker Pools with errgroup"},
		{Level: 3, Text: "Error handling"},
	}, got)

	assert.Empty(t, Headings(""))
}

func TestResolveScope(t *testing.T) {
	tests := []struct {
		name     string
		caller   []string
		inferred []string
		content  string
		want     []string
	}{
		{
			name:     "caller sections used verbatim",
			caller:   []string{"intro", "Conclusion"},
			inferred: []string{"Introduction", "Error handling"},
			content:  sampleDoc,
			want:     []string{"intro", "Conclusion"},
		},
		{
			name:     "inferred sections canonicalized",
			inferred: []string{"introduction", "## error HANDLING", "Introduction"},
			content:  sampleDoc,
			want:     []string{"Introduction", "Error handling"},
		},
		{
			name:     "unknown inferred sections kept",
			inferred: []string{"FAQ"},
			content:  sampleDoc,
			want:     []string{"FAQ"},
		},
		{
			name:    "new document defaults to all",
			content: "  ",
			want:    []string{ScopeAll},
		},
		{
			name:    "existing document without hints",
			content: sampleDoc,
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveScope(tt.caller, tt.inferred, tt.content))
		})
	}
}

func TestResolveScope_DoesNotAliasCallerSlice(t *testing.T) {
	caller := []string{"Introduction"}
	got := ResolveScope(caller, nil, "")
	got[0] = "changed"
	assert.Equal(t, "Introduction", caller[0])
}
