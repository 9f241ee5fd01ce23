package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// LLM completes a single prompt. The judge providers in the services package implement it.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// ErrUnscorable is returned when the model reply does not start with a score between 0 and 5.
var ErrUnscorable = errors.New("reply does not start with a score")

const maxGrade = 5

const scoreInstruction = `Please respond with a single integer between 0 and 5, which is your score. Do not add any text before the score no matter what.
Here is your input:
`

const accuracyPrompt = `You are tasked with evaluating the accuracy of a response generated by an AI model. You will be provided with a question, the AI-generated answer to the question, and a human-labeled, correct answer to the same question.
Assign an accuracy score between 0 and 5 based on how well the AI-generated answer aligns with the human-labeled answer:
5: completely accurate, comprehensive, and matches the human-labeled answer in all essential details.
4: mostly accurate with minor omissions or slightly less clarity.
3: partially accurate, with significant omissions or inaccuracies while still capturing some key aspects.
2: minimal alignment, missing most key points.
1: largely incorrect, irrelevant, or incomplete, with only a trace of alignment.
0: entirely incorrect, irrelevant, or nonsensical.
` + scoreInstruction

const relevancePrompt = `You are an AI assistant tasked with evaluating the relevance of an LLM-generated answer to a given question. Compare the answer to the provided ground truth phrases and assign a relevance score between 0 and 5:
0: completely irrelevant or incorrect
1: mostly irrelevant with minor relevant points
2: partially relevant but missing key information
3: moderately relevant with some alignment to ground truth
4: highly relevant with most key points covered
5: perfectly relevant and comprehensive
` + scoreInstruction

const groundednessPrompt = `You are an AI assistant tasked with evaluating the groundedness of an LLM-generated answer to a given question. Compare the answer to the retrieved context and assign a groundedness score between 0 and 5:
0: completely ungrounded or contradictory to the context
1: mostly ungrounded with minor supported points
2: partially grounded but with significant unsupported claims
3: moderately grounded with some unsupported information
4: highly grounded with most claims supported by the context
5: perfectly grounded and fully supported by the retrieved context
` + scoreInstruction

const coherencePrompt = `You are an AI assistant tasked with evaluating the coherence of an LLM-generated answer to a given question. Judge whether the answer is well organized, logically consistent and easy to follow, and assign a coherence score between 0 and 5:
0: incoherent or self-contradictory
1: mostly incoherent with fragments of structure
2: hard to follow, with several logical gaps
3: understandable but loosely organized
4: clear and well organized with minor issues
5: perfectly clear, logical and well structured
` + scoreInstruction

// Judge grades generated answers with a language model. Every grade is the model's 0-5 score scaled to
// [0,1].
type Judge struct {
	llm LLM
}

// NewJudge creates a Judge backed by llm.
func NewJudge(llm LLM) Judge {
	return Judge{llm: llm}
}

// Accuracy grades how well generated matches the human-labeled answer.
func (j Judge) Accuracy(ctx context.Context, question, generated, answer string) (float64, error) {
	return j.grade(ctx, "accuracy", accuracyPrompt,
		"original question: "+question+"\nllm generated answer: "+generated+"\nhuman labeled answer: "+answer)
}

// Relevance grades how well generated covers the ground truth phrases.
func (j Judge) Relevance(ctx context.Context, question, generated, groundTruth string) (float64, error) {
	return j.grade(ctx, "relevance", relevancePrompt,
		"original question: "+question+"\nllm generated answer: "+generated+"\nground truth: "+groundTruth)
}

// Groundedness grades how well generated is supported by the retrieved context.
func (j Judge) Groundedness(ctx context.Context, question, generated string, retrieved []string) (float64, error) {
	return j.grade(ctx, "groundedness", groundednessPrompt,
		"original question: "+question+"\nllm generated answer: "+generated+
			"\nretrieved context: "+fmt.Sprintf("%q", retrieved))
}

// Coherence grades the structure of generated on its own.
func (j Judge) Coherence(ctx context.Context, question, generated string) (float64, error) {
	return j.grade(ctx, "coherence", coherencePrompt,
		"original question: "+question+"\nllm generated answer: "+generated)
}

func (j Judge) grade(ctx context.Context, metric, systemPrompt, prompt string) (float64, error) {
	reply, err := j.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return 0, fmt.Errorf("failed to grade %s: %w", metric, err)
	}
	score, err := ParseGrade(reply)
	if err != nil {
		return 0, fmt.Errorf("failed to grade %s: %w", metric, err)
	}
	return score, nil
}

// ParseGrade reads the leading 0-5 digit of a model reply and scales it to [0,1].
func ParseGrade(reply string) (float64, error) {
	reply = strings.TrimLeftFunc(reply, unicode.IsSpace)
	if reply == "" {
		return 0, ErrUnscorable
	}
	d := reply[0]
	if d < '0' || d > '0'+maxGrade {
		return 0, fmt.Errorf("%w: %q", ErrUnscorable, truncateReply(reply))
	}
	return float64(d-'0') / maxGrade, nil
}

func truncateReply(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
