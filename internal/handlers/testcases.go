package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/models"
)

type testCasesPageData struct {
	Title     string
	Theme     models.Theme
	TestCases []models.TestCase
	Notice    string
}

// fieldView feeds the editable field partial of a test case.
type fieldView struct {
	ID    int
	Field evaluation.Field
	Label string
	Value string
}

func newFieldView(id int, field, label, value string) fieldView {
	return fieldView{ID: id, Field: evaluation.Field(field), Label: label, Value: value}
}

// maxUploadSize bounds an uploaded test-case sheet.
const maxUploadSize = 10 << 20

const (
	noticeCSV      = "Error parsing CSV file"
	noticeEvaluate = "Error evaluating test case"
)

// HandleTestCases renders the test-case board.
func (m Main) HandleTestCases(w http.ResponseWriter, r *http.Request) {
	m.renderTestCases(w, r, http.StatusOK, "")
}

func (m Main) renderTestCases(w http.ResponseWriter, r *http.Request, status int, notice string) {
	m.render(w, status, "testcases.html", testCasesPageData{
		Title:     "Upload Test Data Below",
		Theme:     m.themeFor(r),
		TestCases: m.store.List(),
		Notice:    notice,
	})
}

func redirectToBoard(w http.ResponseWriter, r *http.Request, id int) {
	target := "/testcases"
	if id > 0 {
		target = fmt.Sprintf("/testcases#testcase-%d", id)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleAddTestCase appends an empty test case.
func (m Main) HandleAddTestCase(w http.ResponseWriter, r *http.Request) {
	tc := m.store.Add()
	redirectToBoard(w, r, tc.ID)
}

// HandleUploadTestCases replaces the board with the test cases of the uploaded "file" CSV. A sheet that
// cannot be parsed leaves the board unchanged and is reported with a notice.
func (m Main) HandleUploadTestCases(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, _, err := r.FormFile("file")
	if err != nil {
		m.logger.Error("CSV upload missing", slog.String(errLoggerKey, err.Error()))
		m.metrics.csvImport(err)
		m.renderTestCases(w, r, http.StatusBadRequest, noticeCSV)
		return
	}
	defer file.Close()

	cases, err := evaluation.ImportCSV(file)
	m.metrics.csvImport(err)
	if err != nil {
		m.logger.Error("CSV parsing error", slog.String(errLoggerKey, err.Error()))
		m.renderTestCases(w, r, http.StatusBadRequest, noticeCSV)
		return
	}

	m.store.Replace(cases)
	m.logger.Info("Imported test cases", slog.Int("count", len(cases)))
	redirectToBoard(w, r, 0)
}

// HandleUpdateTestCase sets the form's "field" to "value" on the test case in the path. An unknown id is
// ignored; an unknown or read-only field is rejected with 400.
func (m Main) HandleUpdateTestCase(w http.ResponseWriter, r *http.Request) {
	id, ok := m.pathID(w, r)
	if !ok {
		return
	}

	field := evaluation.Field(r.FormValue("field"))
	if _, err := m.store.Update(id, field, r.FormValue("value")); err != nil {
		if errors.Is(err, evaluation.ErrUnknownField) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	redirectToBoard(w, r, id)
}

// HandleRemoveTestCase deletes the test case in the path. An unknown id is ignored.
func (m Main) HandleRemoveTestCase(w http.ResponseWriter, r *http.Request) {
	id, ok := m.pathID(w, r)
	if !ok {
		return
	}
	m.store.Remove(id)
	redirectToBoard(w, r, 0)
}

// HandleEvaluateTestCase scores the test case in the path.
func (m Main) HandleEvaluateTestCase(w http.ResponseWriter, r *http.Request) {
	id, ok := m.pathID(w, r)
	if !ok {
		return
	}

	_, err := m.store.Evaluate(r.Context(), id)
	m.metrics.evaluation(err)
	if err != nil {
		m.logger.Error("Failed to evaluate test case",
			slog.Int("id", id),
			slog.String(errLoggerKey, err.Error()))
		m.renderTestCases(w, r, http.StatusBadGateway, noticeEvaluate)
		return
	}
	redirectToBoard(w, r, id)
}

// HandleEvaluateAll scores every test case on the board.
func (m Main) HandleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	err := m.store.EvaluateAll(r.Context())
	m.metrics.evaluation(err)
	if err != nil {
		m.logger.Error("Failed to evaluate test cases", slog.String(errLoggerKey, err.Error()))
		m.renderTestCases(w, r, http.StatusBadGateway, noticeEvaluate)
		return
	}
	redirectToBoard(w, r, 0)
}

func (m Main) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid test case id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
