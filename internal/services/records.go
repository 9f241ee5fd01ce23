package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/models"
)

// RecordSource loads the scored evaluation records shown on the dashboard, either from a local file or
// from an http(s) URL.
type RecordSource struct {
	location string

	client *http.Client
}

// NewRecordSource creates a source reading from location.
func NewRecordSource(location string) RecordSource {
	return RecordSource{
		location: location,
		client:   &http.Client{},
	}
}

// Location returns where the records are read from.
func (s RecordSource) Location() string {
	return s.location
}

// Records reads and validates the records. Each call reads the source again.
func (s RecordSource) Records(ctx context.Context) ([]models.EvaluationRecord, error) {
	rc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	records, err := evaluation.DecodeRecords(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.location, err)
	}
	return records, nil
}

func (s RecordSource) open(ctx context.Context) (io.ReadCloser, error) {
	if !strings.HasPrefix(s.location, "http://") && !strings.HasPrefix(s.location, "https://") {
		f, err := os.Open(s.location)
		if err != nil {
			return nil, fmt.Errorf("failed to open evaluation records: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code %d fetching evaluation records", resp.StatusCode)
	}
	return resp.Body, nil
}
