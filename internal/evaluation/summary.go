// Package evaluation contains the reproducible logic behind the evaluation dashboard: aggregate metrics
// over scored records, CSV import of test cases, the in-memory test-case store and its scorers, and the
// batch evaluator that produces the scored records.
package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/isotope/ragatouille/internal/models"
	"gonum.org/v1/gonum/stat"
)

// ErrNoRecords is returned when a summary is requested over an empty set of records.
var ErrNoRecords = errors.New("no evaluation records")

// Summary holds the aggregate figures shown above the results table.
type Summary struct {
	TotalQuestions      int
	AverageAccuracy     float64
	AverageRelevance    float64
	AverageGroundedness float64

	records []models.EvaluationRecord
}

// Row is a record formatted for the results table.
type Row struct {
	Question        string
	Answer          string
	GeneratedAnswer string
	Accuracy        string
	Relevance       string
	Groundedness    string
}

// Summarize computes the dashboard averages. Each average is the mean score as a percentage rounded to
// the nearest multiple of ten. An empty input yields ErrNoRecords rather than a NaN average.
func Summarize(records []models.EvaluationRecord) (Summary, error) {
	if len(records) == 0 {
		return Summary{}, ErrNoRecords
	}

	accuracy := make([]float64, len(records))
	relevance := make([]float64, len(records))
	groundedness := make([]float64, len(records))
	for i, r := range records {
		accuracy[i] = r.Accuracy
		relevance[i] = r.Relevance
		groundedness[i] = r.Groundedness
	}

	return Summary{
		TotalQuestions:      len(records),
		AverageAccuracy:     roundToTen(stat.Mean(accuracy, nil)),
		AverageRelevance:    roundToTen(stat.Mean(relevance, nil)),
		AverageGroundedness: roundToTen(stat.Mean(groundedness, nil)),
		records:             records,
	}, nil
}

// bucketTolerance absorbs summation error so a mean whose exact value sits on a .5 edge rounds up no
// matter how its scores were added.
const bucketTolerance = 1e-9

// roundToTen scales a [0,1] mean to a percentage and rounds it half-up to a multiple of ten.
func roundToTen(mean float64) float64 {
	return math.Floor(mean*10+0.5+bucketTolerance) * 10
}

// Rows returns the per-record display values in input order.
func (s Summary) Rows() []Row {
	rows := make([]Row, len(s.records))
	for i, r := range s.records {
		rows[i] = Row{
			Question:        r.Question,
			Answer:          r.Answer,
			GeneratedAnswer: r.GeneratedAnswer,
			Accuracy:        FormatPercent(r.Accuracy),
			Relevance:       FormatPercent(r.Relevance),
			Groundedness:    FormatPercent(r.Groundedness),
		}
	}
	return rows
}

// Averages returns the three averages in chart order: accuracy, relevance, groundedness.
func (s Summary) Averages() []float64 {
	return []float64{s.AverageAccuracy, s.AverageRelevance, s.AverageGroundedness}
}

// FormatPercent renders a [0,1] score as a percentage with two decimals.
func FormatPercent(score float64) string {
	return fmt.Sprintf("%.2f%%", score*100)
}

// DecodeRecords reads a JSON array of evaluation records and checks that every score lies in [0,1].
func DecodeRecords(r io.Reader) ([]models.EvaluationRecord, error) {
	var records []models.EvaluationRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation records: %w", err)
	}

	for i, rec := range records {
		for name, score := range map[string]float64{
			"accuracy":     rec.Accuracy,
			"relevance":    rec.Relevance,
			"groundedness": rec.Groundedness,
		} {
			if score < 0 || score > 1 || math.IsNaN(score) {
				return nil, fmt.Errorf("record %d: %s score %v is outside [0,1]", i, name, score)
			}
		}
	}

	return records, nil
}

// WriteRecords writes records as a single indented JSON array.
func WriteRecords(w io.Writer, records []models.EvaluationRecord) error {
	if records == nil {
		records = []models.EvaluationRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode evaluation records: %w", err)
	}
	return nil
}
