package evaluation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/isotope/ragatouille/internal/chat"
	"github.com/isotope/ragatouille/internal/models"
)

// QAItem is one labeled question read from a QA sheet.
type QAItem struct {
	Question    string
	Answer      string
	GroundTruth string
}

// ReadQATSV reads a tab separated QA sheet whose columns are answer, question and ground truth. Rows with
// fewer than three columns are skipped and reported through logger.
func ReadQATSV(r io.Reader, logger *slog.Logger) ([]QAItem, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var items []QAItem
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read qa sheet: %w", err)
		}
		line++

		if len(row) < 3 {
			logger.Warn("Skipping qa row with fewer than 3 columns",
				slog.Int("line", line),
				slog.Int("columns", len(row)))
			continue
		}
		items = append(items, QAItem{
			Answer:      row[0],
			Question:    row[1],
			GroundTruth: row[2],
		})
	}
	return items, nil
}

// Runner produces scored evaluation records by asking the retrieval service each question and grading
// the answers with a judge.
type Runner struct {
	retriever chat.Retriever
	judge     Judge
	logger    *slog.Logger

	// Progress, when set, is called after each item with the number of items done.
	Progress func(done, total int)
}

// NewRunner creates a Runner.
func NewRunner(retriever chat.Retriever, judge Judge, logger *slog.Logger) *Runner {
	return &Runner{
		retriever: retriever,
		judge:     judge,
		logger:    logger.With(slog.String("module", "runner")),
	}
}

// Run evaluates every item in order. A failed retrieval aborts the run; a failed grade is logged and
// scored 0 so every record stays within [0,1].
func (r *Runner) Run(ctx context.Context, items []QAItem) ([]models.EvaluationRecord, error) {
	records := make([]models.EvaluationRecord, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		res, err := r.retriever.Retrieve(ctx, item.Question)
		if err != nil {
			return records, fmt.Errorf("failed to retrieve answer for item %d: %w", i+1, err)
		}
		sources := Dedupe(res.Sources)

		records = append(records, models.EvaluationRecord{
			Question:         item.Question,
			Answer:           item.Answer,
			GroundTruth:      item.GroundTruth,
			GeneratedAnswer:  res.Info,
			RetrievedSources: sources,
			Accuracy: r.score(i, func() (float64, error) {
				return r.judge.Accuracy(ctx, item.Question, res.Info, item.Answer)
			}),
			Relevance: r.score(i, func() (float64, error) {
				return r.judge.Relevance(ctx, item.Question, res.Info, item.GroundTruth)
			}),
			Groundedness: r.score(i, func() (float64, error) {
				return r.judge.Groundedness(ctx, item.Question, res.Info, sources)
			}),
		})

		if r.Progress != nil {
			r.Progress(i+1, len(items))
		}
	}
	return records, nil
}

func (r *Runner) score(item int, grade func() (float64, error)) float64 {
	s, err := grade()
	if err != nil {
		r.logger.Warn("Grading failed, scoring 0",
			slog.Int("item", item+1),
			slog.String("err", err.Error()))
		return 0
	}
	return s
}
