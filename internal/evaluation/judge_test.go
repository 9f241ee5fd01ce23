package evaluation_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/isotope/ragatouille/internal/chat"
	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLLM answers with the reply registered for the first system prompt keyword it finds.
type mockLLM struct {
	replies map[string]string
	err     error
	prompts []string
}

func (m *mockLLM) Complete(_ context.Context, systemPrompt, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	for keyword, reply := range m.replies {
		if strings.Contains(systemPrompt, keyword) {
			return reply, nil
		}
	}
	return "0", nil
}

type mockRetriever struct {
	res chat.Retrieval
	err error
}

func (m mockRetriever) Retrieve(context.Context, string) (chat.Retrieval, error) {
	return m.res, m.err
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		reply   string
		want    float64
		wantErr bool
	}{
		{reply: "5", want: 1},
		{reply: "0", want: 0},
		{reply: "3", want: 0.6},
		{reply: "  4\nBecause...", want: 0.8},
		{reply: "2/5", want: 0.4},
		{reply: "", wantErr: true},
		{reply: "Score: 4", wantErr: true},
		{reply: "7", wantErr: true},
	}

	for _, tt := range tests {
		got, err := evaluation.ParseGrade(tt.reply)
		if tt.wantErr {
			assert.ErrorIs(t, err, evaluation.ErrUnscorable, "reply %q", tt.reply)
			continue
		}
		require.NoError(t, err, "reply %q", tt.reply)
		assert.InDelta(t, tt.want, got, 1e-9, "reply %q", tt.reply)
	}
}

func TestJudge(t *testing.T) {
	llm := &mockLLM{replies: map[string]string{
		"accuracy":     "4",
		"relevance":    "3",
		"groundedness": "5",
		"coherence":    "2",
	}}
	j := evaluation.NewJudge(llm)
	ctx := context.Background()

	accuracy, err := j.Accuracy(ctx, "q", "generated", "answer")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, accuracy, 1e-9)
	assert.Contains(t, llm.prompts[0], "human labeled answer: answer")

	relevance, err := j.Relevance(ctx, "q", "generated", "truth")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, relevance, 1e-9)

	groundedness, err := j.Groundedness(ctx, "q", "generated", []string{"doc.pdf"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, groundedness, 1e-9)
	assert.Contains(t, llm.prompts[2], `"doc.pdf"`)

	coherence, err := j.Coherence(ctx, "q", "generated")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, coherence, 1e-9)
}

func TestJudgeErrors(t *testing.T) {
	ctx := context.Background()

	j := evaluation.NewJudge(&mockLLM{err: errors.New("rate limited")})
	_, err := j.Accuracy(ctx, "q", "g", "a")
	assert.ErrorContains(t, err, "rate limited")

	j = evaluation.NewJudge(&mockLLM{replies: map[string]string{"accuracy": "I think it is good"}})
	_, err = j.Accuracy(ctx, "q", "g", "a")
	assert.ErrorIs(t, err, evaluation.ErrUnscorable)
}

func TestJudgeScorer(t *testing.T) {
	retriever := mockRetriever{res: chat.Retrieval{
		Info:    "generated answer",
		Sources: []string{"a.pdf", "x.pdf", "a.pdf"},
	}}
	llm := &mockLLM{replies: map[string]string{
		"relevance":    "5",
		"coherence":    "4",
		"groundedness": "3",
	}}
	scorer := evaluation.NewJudgeScorer(retriever, evaluation.NewJudge(llm), discardLogger())

	ev, err := scorer.Score(context.Background(), models.TestCase{
		ID:                 1,
		Input:              "question",
		GroundTruthPhrases: []string{"p1", "p2"},
		RelevantDocuments:  []string{"a.pdf", "b.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated answer", ev.ActualOutput)
	assert.InDelta(t, 1.0, ev.Metrics.Relevance, 1e-9)
	assert.InDelta(t, 0.8, ev.Metrics.Coherence, 1e-9)
	assert.InDelta(t, 0.6, ev.Metrics.Groundedness, 1e-9)
	assert.InDelta(t, 0.5, ev.Metrics.ContextRecall, 1e-9)
	assert.Contains(t, llm.prompts[0], "ground truth: p1, p2")
}

func TestJudgeScorerRetrievalError(t *testing.T) {
	scorer := evaluation.NewJudgeScorer(
		mockRetriever{err: errors.New("connection refused")},
		evaluation.NewJudge(&mockLLM{}),
		discardLogger(),
	)

	_, err := scorer.Score(context.Background(), models.TestCase{ID: 1})
	assert.ErrorContains(t, err, "connection refused")
}
