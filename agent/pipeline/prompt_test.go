package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inkflow/types"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		DocumentID: "doc-1",
		Metadata: types.DocumentMetadata{
			Title:     "Practical Go Concurrency",
			Tone:      "pragmatic",
			Keywords:  []string{"go", "errgroup"},
			Audience:  "backend engineers",
			LengthMin: 800,
			LengthMax: 1500,
		},
		UserMessage: "shorten the introduction",
		Task:        "Shorten the introduction to three sentences.",
	}
}

func TestBuildPrompt_AllStagesRender(t *testing.T) {
	snap := sampleSnapshot()
	for _, stage := range []Stage{StageSummary, StageInstruction, StageOrchestrator, StageResearch, StageSEO, StageOutline, StageWriting} {
		prompt, err := BuildPrompt(stage, snap)
		require.NoError(t, err, stage)
		assert.NotEmpty(t, prompt, stage)
		assert.NotContains(t, prompt, "<no value>", stage)
	}

	_, err := BuildPrompt("translator", snap)
	assert.Error(t, err)
}

func TestBuildPrompt_IsPure(t *testing.T) {
	snap := sampleSnapshot()
	snap.Content = sampleDoc
	snap.Scope = []string{"Introduction"}

	first, err := BuildPrompt(StageWriting, snap)
	require.NoError(t, err)
	second, err := BuildPrompt(StageWriting, snap)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Introduction"}, snap.Scope)
}

func TestBuildPrompt_EditContext(t *testing.T) {
	snap := sampleSnapshot()
	create, err := BuildPrompt(StageOrchestrator, snap)
	require.NoError(t, err)
	assert.NotContains(t, create, "EXISTING CONTENT")

	snap.Content = sampleDoc
	snap.Scope = []string{"Introduction", "FAQ"}
	snap.Directives = "Do not touch code samples."
	snap.Instructions = "British spelling"
	edit, err := BuildPrompt(StageOrchestrator, snap)
	require.NoError(t, err)
	assert.Contains(t, edit, "EXISTING CONTENT")
	assert.Contains(t, edit, "SECTIONS IN SCOPE: Introduction, FAQ")
	assert.Contains(t, edit, "Do not touch code samples.")
	assert.Contains(t, edit, "British spelling")
}

func TestBuildPrompt_ResearchModes(t *testing.T) {
	snap := sampleSnapshot()
	plan, err := BuildPrompt(StageResearch, snap)
	require.NoError(t, err)
	assert.Contains(t, plan, `"queries"`)

	snap.SearchResults = "Query: go\n[]"
	summarize, err := BuildPrompt(StageResearch, snap)
	require.NoError(t, err)
	assert.Contains(t, summarize, `"findings"`)
	assert.Contains(t, summarize, "Query: go")
}

func TestBuildPrompt_Feedback(t *testing.T) {
	snap := sampleSnapshot()
	snap.Feedback = "h1: required"
	prompt, err := BuildPrompt(StageSEO, snap)
	require.NoError(t, err)
	assert.Contains(t, prompt, "REJECTED")
	assert.Contains(t, prompt, "h1: required")
}

func TestFirstDraftTask(t *testing.T) {
	task := FirstDraftTask(sampleSnapshot().Metadata)
	assert.True(t, strings.HasPrefix(task, `Create the first complete draft of "Practical Go Concurrency"`))
	assert.Contains(t, task, "800-1500 words")
	assert.Contains(t, task, "go, errgroup")
}
