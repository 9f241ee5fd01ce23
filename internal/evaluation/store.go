package evaluation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/isotope/ragatouille/internal/models"
)

// Field names a user-editable column of a test case.
type Field string

// Editable fields. The id, the actual output and the metrics are not editable through Update.
const (
	FieldInput              Field = "input"
	FieldExpectedOutput     Field = "expectedOutput"
	FieldGroundTruthPhrases Field = "groundTruthPhrases"
	FieldRelevantDocuments  Field = "relevantDocuments"
)

// ErrUnknownField is returned by Update for fields that cannot be edited.
var ErrUnknownField = errors.New("unknown or read-only field")

// Store keeps the test cases of the board in memory. Every mutation swaps in a fresh slice, so lists
// returned earlier are never changed behind the caller's back.
type Store struct {
	mu     sync.Mutex
	cases  []models.TestCase
	scorer Scorer
}

// NewStore returns an empty store that evaluates with the given scorer, or with PlaceholderScorer when
// scorer is nil.
func NewStore(scorer Scorer) *Store {
	if scorer == nil {
		scorer = PlaceholderScorer{}
	}
	return &Store{
		cases:  []models.TestCase{},
		scorer: scorer,
	}
}

// List returns a deep copy of all test cases in board order.
func (s *Store) List() []models.TestCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCases(s.cases)
}

// Get returns the test case with the given id.
func (s *Store) Get(id int) (models.TestCase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(id)
	if idx == -1 {
		return models.TestCase{}, false
	}
	return s.cases[idx].Clone(), true
}

// Replace swaps the whole board, as a CSV import does.
func (s *Store) Replace(cases []models.TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases = cloneCases(cases)
}

// Add appends an empty test case whose id is one more than the highest id on the board, or 1 on an empty
// board.
func (s *Store) Add() models.TestCase {
	s.mu.Lock()
	defer s.mu.Unlock()

	newID := 1
	if len(s.cases) > 0 {
		newID = slices.MaxFunc(s.cases, func(a, b models.TestCase) int { return a.ID - b.ID }).ID + 1
	}

	tc := models.TestCase{
		ID:                 newID,
		GroundTruthPhrases: []string{},
		RelevantDocuments:  []string{},
	}
	s.cases = append(cloneCases(s.cases), tc)

	return tc.Clone()
}

// Update sets one editable field of the test case with the given id. List fields are given as comma
// separated text. It reports whether the test case exists; a missing id leaves the board unchanged.
func (s *Store) Update(id int, field Field, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(id)
	if idx == -1 {
		if !field.editable() {
			return false, fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		return false, nil
	}

	tc := s.cases[idx].Clone()
	switch field {
	case FieldInput:
		tc.Input = value
	case FieldExpectedOutput:
		tc.ExpectedOutput = value
	case FieldGroundTruthPhrases:
		tc.GroundTruthPhrases = SplitList(value)
	case FieldRelevantDocuments:
		tc.RelevantDocuments = SplitList(value)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	s.replaceAt(idx, tc)
	return true, nil
}

// Remove deletes the test case with the given id and reports whether it existed.
func (s *Store) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(id)
	if idx == -1 {
		return false
	}
	s.cases = slices.Delete(cloneCases(s.cases), idx, idx+1)
	return true
}

// Evaluate scores the test case with the given id and stores the actual output and metrics. No other
// field and no other test case is touched. It reports whether the test case exists.
func (s *Store) Evaluate(ctx context.Context, id int) (bool, error) {
	tc, ok := s.Get(id)
	if !ok {
		return false, nil
	}

	// Scoring may be slow, so it runs outside the lock.
	ev, err := s.scorer.Score(ctx, tc)
	if err != nil {
		return true, fmt.Errorf("failed to score test case %d: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(id)
	if idx == -1 {
		return false, nil
	}
	s.replaceAt(idx, ev.apply(s.cases[idx]))
	return true, nil
}

// EvaluateAll scores every test case in board order. Test cases scored before a failure keep their new
// results.
func (s *Store) EvaluateAll(ctx context.Context) error {
	for _, tc := range s.List() {
		if _, err := s.Evaluate(ctx, tc.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) index(id int) int {
	return slices.IndexFunc(s.cases, func(tc models.TestCase) bool { return tc.ID == id })
}

func (s *Store) replaceAt(idx int, tc models.TestCase) {
	cases := cloneCases(s.cases)
	cases[idx] = tc
	s.cases = cases
}

func (f Field) editable() bool {
	switch f {
	case FieldInput, FieldExpectedOutput, FieldGroundTruthPhrases, FieldRelevantDocuments:
		return true
	}
	return false
}

func cloneCases(cases []models.TestCase) []models.TestCase {
	out := make([]models.TestCase, len(cases))
	for i, tc := range cases {
		out[i] = tc.Clone()
	}
	return out
}
