package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/models"
)

type dashboardPageData struct {
	Title   string
	Theme   models.Theme
	Summary evaluation.Summary
	Rows    []evaluation.Row
	Chart   template.JS
	NoData  bool
	Error   string
}

type barChart struct {
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
	Colors []string  `json:"colors"`
}

// HandleDashboard renders the summary, bar chart and results table of the evaluation records. When
// there are no records it renders the "no evaluation results" state instead of any averages.
func (m Main) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	data := dashboardPageData{
		Title: "RAG Model Evaluation Dashboard",
		Theme: m.themeFor(r),
	}

	records, err := m.records.Records(r.Context())
	if err != nil {
		m.logger.Error("Error fetching evaluation records", slog.String(errLoggerKey, err.Error()))
		data.Error = "Evaluation results could not be loaded."
		m.render(w, http.StatusOK, "dashboard.html", data)
		return
	}

	summary, err := evaluation.Summarize(records)
	if errors.Is(err, evaluation.ErrNoRecords) {
		data.NoData = true
		m.render(w, http.StatusOK, "dashboard.html", data)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	chart, err := json.Marshal(barChart{
		Labels: []string{"Accuracy", "Relevance", "Groundedness"},
		Data:   summary.Averages(),
		Colors: []string{"#4caf50", "#2196f3", "#ff9800"},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data.Summary = summary
	data.Rows = summary.Rows()
	data.Chart = template.JS(chart)
	m.render(w, http.StatusOK, "dashboard.html", data)
}

// HandleRecords serves the evaluation records as a JSON array.
func (m Main) HandleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := m.records.Records(r.Context())
	if err != nil {
		m.logger.Error("Error fetching evaluation records", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "evaluation records unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := evaluation.WriteRecords(w, records); err != nil {
		m.logger.Error("Failed to write evaluation records", slog.String(errLoggerKey, err.Error()))
	}
}
