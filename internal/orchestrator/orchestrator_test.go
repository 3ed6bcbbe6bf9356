package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brightwave-solutions/advisor/internal/dataset"
	"github.com/brightwave-solutions/advisor/internal/llm"
	"github.com/brightwave-solutions/advisor/internal/normalize"
)

const testCSV = `CustomerID,Customer Name,Last Sale (months),YTD Purchases (EUR)
C001,Alpha Logistics,1,400000
C002,Beta Retail,6,120000
`

type fakeModel struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrUpstream, f.err)
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("fakeModel: no scripted response for call %d", f.calls)
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func newOrchestrator(t *testing.T, model llm.Client) *Orchestrator {
	t.Helper()
	table, err := dataset.Parse(testCSV)
	require.NoError(t, err)
	return New(model, table, 0.75, zap.NewNop())
}

func TestValidateGating(t *testing.T) {
	tests := []struct {
		name     string
		response string
		allowed  bool
	}{
		{
			name:     "similar and above threshold",
			response: `{"similar":true,"score":0.8,"reason":"close"}`,
			allowed:  true,
		},
		{
			name:     "similar but below threshold",
			response: `{"similar":true,"score":0.5,"reason":"weak"}`,
			allowed:  false,
		},
		{
			name:     "dissimilar despite high score",
			response: `{"similar":false,"score":0.9,"reason":"different intent"}`,
			allowed:  false,
		},
		{
			name:     "missing similar flag",
			response: `{"score":0.9,"reason":"no flag"}`,
			allowed:  false,
		},
		{
			name:     "similar not a boolean",
			response: `{"similar":"yes","score":0.9}`,
			allowed:  false,
		},
		{
			name:     "score exactly at threshold",
			response: `{"similar":true,"score":0.75}`,
			allowed:  true,
		},
		{
			name:     "score as quoted string",
			response: `{"similar":true,"score":"0.85","reason":"quoted"}`,
			allowed:  true,
		},
		{
			name:     "missing score",
			response: `{"similar":true,"reason":"no score"}`,
			allowed:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := newOrchestrator(t, &fakeModel{responses: []string{tt.response}})
			result, err := orch.Validate(context.Background(), "who should I contact first?")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, result.Allowed)
		})
	}
}

func TestValidateEmptyQuestion(t *testing.T) {
	model := &fakeModel{}
	orch := newOrchestrator(t, model)

	_, err := orch.Validate(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Equal(t, 0, model.calls)
}

func TestValidateMalformedJudgment(t *testing.T) {
	orch := newOrchestrator(t, &fakeModel{responses: []string{"no json here"}})

	_, err := orch.Validate(context.Background(), "who first?")
	assert.ErrorIs(t, err, normalize.ErrMalformedResponse)
}

func TestValidateDefaultReason(t *testing.T) {
	orch := newOrchestrator(t, &fakeModel{responses: []string{`{"similar":false,"score":0.1}`}})

	result, err := orch.Validate(context.Background(), "who first?")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "not similar", result.Reason)
}

func TestRecommendEmbedsDataset(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"summary":"Alpha first.","bullets":["last sale=1 mo"],"fields":["last sale"]}`,
	}}
	orch := newOrchestrator(t, model)

	turn, err := orch.Recommend(context.Background(), "who first?")
	require.NoError(t, err)
	assert.Equal(t, "Alpha first.", turn.Summary)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Alpha Logistics")
	assert.Contains(t, model.prompts[0], "Dataset (CSV):")
}

func TestRecommendUpstreamError(t *testing.T) {
	orch := newOrchestrator(t, &fakeModel{err: fmt.Errorf("dial tcp: timeout")})

	_, err := orch.Recommend(context.Background(), "who first?")
	assert.ErrorIs(t, err, llm.ErrUpstream)
}

func TestRunRejectedHaltsPipeline(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"similar":false,"score":0.3,"reason":"off topic"}`,
	}}
	orch := newOrchestrator(t, model)

	result, err := orch.Run(context.Background(), "tell me a joke")
	require.NoError(t, err)
	assert.False(t, result.Validation.Allowed)
	assert.Nil(t, result.Recommendation)
	assert.Nil(t, result.Review)
	assert.Nil(t, result.Revision)
	assert.Equal(t, 1, model.calls)
}

func TestRunFullPipeline(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"similar":true,"score":0.9,"reason":"matches"}`,
		`{"summary":"Alpha first.","bullets":["last sale=1 mo"],"fields":["last sale"]}`,
		`{"overall":"One gap.","bullets":["freq ignored"],"replacementCustomer":"Beta Retail","customerToReplace":"Alpha Logistics","fields":["freq"]}`,
		`{"summary":"Beta first.","bullets":["freq=3/yr"],"fields":["freq"]}`,
	}}
	orch := newOrchestrator(t, model)

	result, err := orch.Run(context.Background(), "who should I contact first?")
	require.NoError(t, err)
	assert.Equal(t, 4, model.calls)
	assert.True(t, result.Validation.Allowed)
	require.NotNil(t, result.Recommendation)
	require.NotNil(t, result.Review)
	require.NotNil(t, result.Revision)
	assert.Equal(t, "Beta first.", result.Revision.Summary)

	// Revision prompt carries the controller feedback and substitution.
	revisePrompt := model.prompts[3]
	assert.Contains(t, revisePrompt, "freq ignored")
	assert.Contains(t, revisePrompt, "Beta Retail")
}

func TestRunStopsOnStageFailure(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"similar":true,"score":0.9}`,
		"not json at all",
	}}
	orch := newOrchestrator(t, model)

	result, err := orch.Run(context.Background(), "who first?")
	assert.ErrorIs(t, err, normalize.ErrMalformedResponse)
	assert.Equal(t, 2, model.calls)
	assert.True(t, result.Validation.Allowed)
	assert.Nil(t, result.Recommendation)
}

func TestReviewPromptCarriesRecommendation(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"overall":"ok","bullets":["fine"],"fields":["ytd"]}`,
	}}
	orch := newOrchestrator(t, model)

	_, err := orch.Review(context.Background(), ReviewInput{
		Question:    "who first?",
		Summary:     "Alpha first.",
		Bullets:     []string{"last sale=1 mo", "ytd=€400k"},
		CitedFields: []string{"last sale", "ytd"},
	})
	require.NoError(t, err)
	require.Len(t, model.prompts, 1)
	prompt := model.prompts[0]
	assert.Contains(t, prompt, "Alpha first.")
	assert.Contains(t, prompt, "- last sale=1 mo")
	assert.Contains(t, prompt, "last sale, ytd")
}

func TestPromptsShareSystemContext(t *testing.T) {
	for _, prompt := range []string{
		validatePrompt("q", 0.75),
		recommendPrompt("q", "csv"),
		reviewPrompt(ReviewInput{Question: "q"}),
		revisePrompt(ReviseInput{Question: "q"}),
	} {
		assert.True(t, strings.HasPrefix(prompt, systemContext))
	}
}
