package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/isotope/ragatouille/internal/chat"
)

// DefaultRetrievalURL is the retrieval endpoint of a locally running back-end.
const DefaultRetrievalURL = "http://127.0.0.1:5000/retrieve"

// DefaultRetrievalTimeout bounds a single retrieval call.
const DefaultRetrievalTimeout = 30 * time.Second

// Retrieval is a client for the RAG back-end's retrieve endpoint. It implements chat.Retriever.
type Retrieval struct {
	url     string
	timeout time.Duration

	client *http.Client

	logger *slog.Logger
}

type retrievalRequest struct {
	UserQuery string `json:"user_query"`
}

type retrievalResponse struct {
	RetrievedInfo *string  `json:"retrievedInfo"`
	Answer        *string  `json:"answer"`
	Sources       []string `json:"sources"`
	Error         string   `json:"error"`
}

// NewRetrieval creates a retrieval client for url. A zero timeout falls back to DefaultRetrievalTimeout.
func NewRetrieval(url string, timeout time.Duration, logger *slog.Logger) Retrieval {
	if url == "" {
		url = DefaultRetrievalURL
	}
	if timeout <= 0 {
		timeout = DefaultRetrievalTimeout
	}
	return Retrieval{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "retrieval")),
	}
}

// Retrieve posts the query and returns the retrieved text and its sources. Any non-2xx status or an
// undecodable body is an error.
func (r Retrieval) Retrieve(ctx context.Context, query string) (chat.Retrieval, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	jsonBody, err := json.Marshal(retrievalRequest{UserQuery: query})
	if err != nil {
		return chat.Retrieval{}, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return chat.Retrieval{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return chat.Retrieval{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	r.logger.Debug("Retrieval response",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return chat.Retrieval{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var res retrievalResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return chat.Retrieval{}, fmt.Errorf("error decoding response: %w", err)
	}

	info := res.RetrievedInfo
	if info == nil {
		// The Flask back-end names the field "answer".
		info = res.Answer
	}
	if info == nil {
		if res.Error != "" {
			return chat.Retrieval{}, fmt.Errorf("retrieval error: %s", res.Error)
		}
		return chat.Retrieval{}, errors.New("response has no retrievedInfo")
	}

	return chat.Retrieval{
		Info:    *info,
		Sources: res.Sources,
	}, nil
}
