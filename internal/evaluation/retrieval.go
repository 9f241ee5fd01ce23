package evaluation

import "slices"

// Precision is the share of retrieved documents that are relevant. It is 0 when either list is empty.
// Lists are expected to be deduplicated.
func Precision(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 || len(relevant) == 0 {
		return 0
	}
	return float64(hits(retrieved, relevant)) / float64(len(retrieved))
}

// PrecisionAtK is Precision over the first k retrieved documents. k must be positive.
func PrecisionAtK(retrieved, relevant []string, k int) float64 {
	return Precision(head(retrieved, k), relevant)
}

// Recall is the share of relevant documents that were retrieved. Nothing retrieved scores 0; nothing
// relevant scores 1.
func Recall(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	if len(relevant) == 0 {
		return 1
	}
	return float64(hits(retrieved, relevant)) / float64(len(relevant))
}

// RecallAtK is Recall over the first k retrieved documents. k must be positive.
func RecallAtK(retrieved, relevant []string, k int) float64 {
	return Recall(head(retrieved, k), relevant)
}

// F1 is the harmonic mean of Precision and Recall, or 0 when both are 0.
func F1(retrieved, relevant []string) float64 {
	p := Precision(retrieved, relevant)
	r := Recall(retrieved, relevant)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// F1AtK is F1 over the first k retrieved documents. k must be positive.
func F1AtK(retrieved, relevant []string, k int) float64 {
	return F1(head(retrieved, k), relevant)
}

// Dedupe drops repeated ids, keeping the first occurrence.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func hits(retrieved, relevant []string) int {
	n := 0
	for _, id := range retrieved {
		if slices.Contains(relevant, id) {
			n++
		}
	}
	return n
}

func head(ids []string, k int) []string {
	if k <= 0 {
		panic("k must be greater than 0")
	}
	return ids[:min(k, len(ids))]
}
