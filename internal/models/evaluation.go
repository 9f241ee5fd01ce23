package models

// EvaluationRecord is one scored question produced by the batch evaluator and shown on the dashboard.
// Every score lies in [0,1].
type EvaluationRecord struct {
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	GeneratedAnswer string  `json:"generated_answer"`
	Accuracy        float64 `json:"accuracy"`
	Relevance       float64 `json:"relevance"`
	Groundedness    float64 `json:"groundedness"`

	// GroundTruth and RetrievedSources are written by the batch evaluator for reference only.
	GroundTruth      string   `json:"ground_truth,omitempty"`
	RetrievedSources []string `json:"retrieved sources,omitempty"`
}

// Metrics holds the scores attached to a test case.
type Metrics struct {
	Relevance     float64 `json:"relevance"`
	Coherence     float64 `json:"coherence"`
	Groundedness  float64 `json:"groundedness"`
	ContextRecall float64 `json:"context_recall"`
}

// TestCase is an editable question/answer pair on the test-case board.
type TestCase struct {
	ID                 int      `json:"id"`
	Input              string   `json:"input"`
	ExpectedOutput     string   `json:"expectedOutput"`
	ActualOutput       string   `json:"actualOutput"`
	GroundTruthPhrases []string `json:"groundTruthPhrases"`
	RelevantDocuments  []string `json:"relevantDocuments"`
	Metrics            Metrics  `json:"metrics"`
}

// Clone returns a deep copy of the test case so callers never share slices with a store.
func (tc TestCase) Clone() TestCase {
	tc.GroundTruthPhrases = cloneStrings(tc.GroundTruthPhrases)
	tc.RelevantDocuments = cloneStrings(tc.RelevantDocuments)
	return tc
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
