package evaluation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/isotope/ragatouille/internal/chat"
	"github.com/isotope/ragatouille/internal/models"
)

// PlaceholderOutput is the actual output written by PlaceholderScorer.
const PlaceholderOutput = "Evaluation result placeholder"

// Evaluation is the result of scoring one test case.
type Evaluation struct {
	ActualOutput string
	Metrics      models.Metrics
}

func (e Evaluation) apply(tc models.TestCase) models.TestCase {
	tc = tc.Clone()
	tc.ActualOutput = e.ActualOutput
	tc.Metrics = e.Metrics
	return tc
}

// Scorer produces the actual output and metrics of a test case.
type Scorer interface {
	Score(ctx context.Context, tc models.TestCase) (Evaluation, error)
}

// PlaceholderScorer stands in for a real scoring pipeline: it always reports the placeholder output and
// zero metrics.
type PlaceholderScorer struct{}

// Score implements Scorer.
func (PlaceholderScorer) Score(context.Context, models.TestCase) (Evaluation, error) {
	return Evaluation{ActualOutput: PlaceholderOutput}, nil
}

// JudgeScorer scores a test case end to end: it asks the retrieval service for an answer, has the judge
// grade relevance, coherence and groundedness, and measures context recall against the relevant
// documents of the test case.
type JudgeScorer struct {
	retriever chat.Retriever
	judge     Judge
	logger    *slog.Logger
}

// NewJudgeScorer creates a JudgeScorer.
func NewJudgeScorer(retriever chat.Retriever, judge Judge, logger *slog.Logger) JudgeScorer {
	return JudgeScorer{
		retriever: retriever,
		judge:     judge,
		logger:    logger.With(slog.String("module", "judge_scorer")),
	}
}

// Score implements Scorer.
func (j JudgeScorer) Score(ctx context.Context, tc models.TestCase) (Evaluation, error) {
	res, err := j.retriever.Retrieve(ctx, tc.Input)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to retrieve answer: %w", err)
	}

	relevance, err := j.judge.Relevance(ctx, tc.Input, res.Info, JoinList(tc.GroundTruthPhrases))
	if err != nil {
		return Evaluation{}, err
	}
	coherence, err := j.judge.Coherence(ctx, tc.Input, res.Info)
	if err != nil {
		return Evaluation{}, err
	}
	groundedness, err := j.judge.Groundedness(ctx, tc.Input, res.Info, res.Sources)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{
		ActualOutput: res.Info,
		Metrics: models.Metrics{
			Relevance:     relevance,
			Coherence:     coherence,
			Groundedness:  groundedness,
			ContextRecall: Recall(Dedupe(res.Sources), Dedupe(tc.RelevantDocuments)),
		},
	}

	j.logger.Debug("Scored test case",
		slog.Int("id", tc.ID),
		slog.String("metrics", fmt.Sprintf("%+v", ev.Metrics)))

	return ev, nil
}
