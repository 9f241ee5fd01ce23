package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/isotope/ragatouille/internal/chat"
	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/handlers"
	"github.com/isotope/ragatouille/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRetriever struct {
	mu      sync.Mutex
	queries []string

	result  chat.Retrieval
	err     error
	release chan struct{}
	before  func()
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string) (chat.Retrieval, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()

	if m.before != nil {
		m.before()
	}

	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return chat.Retrieval{}, ctx.Err()
		}
	}
	return m.result, m.err
}

type mockRecords struct {
	records []models.EvaluationRecord
	err     error
}

func (m mockRecords) Records(context.Context) ([]models.EvaluationRecord, error) {
	return m.records, m.err
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, models.TestCase) (evaluation.Evaluation, error) {
	return evaluation.Evaluation{}, errors.New("judge unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	main    handlers.Main
	mux     *http.ServeMux
	store   *evaluation.Store
	metrics *handlers.Metrics
}

func newFixture(t *testing.T, retriever chat.Retriever, records handlers.RecordSource, store *evaluation.Store) fixture {
	t.Helper()

	if store == nil {
		store = evaluation.NewStore(nil)
	}
	metrics := handlers.NewMetrics(prometheus.NewRegistry())

	main, err := handlers.NewMain(retriever, records, store, models.ThemeDark, metrics, discardLogger())
	require.NoError(t, err)

	mux := http.NewServeMux()
	main.Register(mux)

	return fixture{main: main, mux: mux, store: store, metrics: metrics}
}

func (f fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNewMain(t *testing.T) {
	f := newFixture(t, &mockRetriever{}, mockRecords{}, nil)
	assert.NoError(t, f.main.Shutdown(context.Background()))
}

func TestHandleChat(t *testing.T) {
	f := newFixture(t, &mockRetriever{}, mockRecords{}, nil)

	w := f.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "RAGatouille Chatbot")
	assert.Contains(t, w.Body.String(), chat.Greeting)
	assert.Contains(t, w.Body.String(), `maxlength="1000"`)
	assert.NotContains(t, w.Body.String(), "loading-message")
}

func TestHandleMessages(t *testing.T) {
	retriever := &mockRetriever{result: chat.Retrieval{Info: "The answer is **42**"}}
	f := newFixture(t, retriever, mockRecords{}, nil)

	w := f.do(postForm("/messages", url.Values{"message": {"  What is the answer?  "}}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "What is the answer?")
	assert.Contains(t, w.Body.String(), "loading-message")

	require.NoError(t, f.main.Shutdown(context.Background()))
	assert.Equal(t, []string{"What is the answer?"}, retriever.queries)

	page := f.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, page, "<strong>42</strong>")
	assert.NotContains(t, page, "loading-message")

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ChatMessages.WithLabelValues("user")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ChatMessages.WithLabelValues("bot")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RetrievalRequests.WithLabelValues("success")), 0)
}

func TestHandleMessagesFallback(t *testing.T) {
	f := newFixture(t, &mockRetriever{err: errors.New("connection refused")}, mockRecords{}, nil)

	w := f.do(postForm("/messages", url.Values{"message": {"Hi"}}))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, f.main.Shutdown(context.Background()))

	page := f.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, page, chat.FallbackReply)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RetrievalRequests.WithLabelValues("error")), 0)
}

func TestHandleMessagesWritesBubblesBeforeReply(t *testing.T) {
	retriever := &mockRetriever{err: errors.New("connection refused")}
	f := newFixture(t, retriever, mockRecords{}, nil)

	w := httptest.NewRecorder()
	var bodyAtRetrieve string
	var flushedAtRetrieve bool
	retriever.before = func() {
		bodyAtRetrieve = w.Body.String()
		flushedAtRetrieve = w.Flushed
	}

	f.mux.ServeHTTP(w, postForm("/messages", url.Values{"message": {"Is anyone there?"}}))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, f.main.Shutdown(context.Background()))

	assert.True(t, flushedAtRetrieve)
	assert.Contains(t, bodyAtRetrieve, "loading-message")
	assert.Contains(t, bodyAtRetrieve, "Is anyone there?")
	assert.Equal(t, w.Body.String(), bodyAtRetrieve)

	page := f.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, page, chat.FallbackReply)
	assert.NotContains(t, page, "loading-message")
}

func TestHandleMessagesRejects(t *testing.T) {
	retriever := &mockRetriever{release: make(chan struct{})}
	f := newFixture(t, retriever, mockRecords{}, nil)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
	}{
		{
			name:       "Invalid method",
			req:        httptest.NewRequest(http.MethodGet, "/messages", nil),
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Blank message",
			req:        postForm("/messages", url.Values{"message": {"   "}}),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "First message",
			req:        postForm("/messages", url.Values{"message": {"first"}}),
			wantStatus: http.StatusOK,
		},
		{
			name:       "Message while awaiting a reply",
			req:        postForm("/messages", url.Values{"message": {"second"}}),
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	page := f.do(httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, page, "loading-message")

	close(retriever.release)
	require.NoError(t, f.main.Shutdown(context.Background()))
	assert.Equal(t, []string{"first"}, retriever.queries)
}

func TestHandleTheme(t *testing.T) {
	f := newFixture(t, &mockRetriever{}, mockRecords{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/theme", nil)
	req.Header.Set("Referer", "/dashboard")
	w := f.do(req)

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "light", cookies[0].Value)

	page := httptest.NewRequest(http.MethodGet, "/", nil)
	page.AddCookie(cookies[0])
	body := f.do(page).Body.String()
	assert.Contains(t, body, `data-theme="light"`)
	assert.Contains(t, body, models.ThemeLight.Label())
}

func TestHandleDashboard(t *testing.T) {
	records := []models.EvaluationRecord{
		{Question: "Q1", Answer: "A1", GeneratedAnswer: "G1", Accuracy: 0.8, Relevance: 0.2, Groundedness: 0.1},
		{Question: "Q2", Answer: "A2", GeneratedAnswer: "G2", Accuracy: 0.88, Relevance: 0.4, Groundedness: 0.1},
	}

	tests := []struct {
		name     string
		records  mockRecords
		wantBody []string
		notBody  []string
	}{
		{
			name:    "With records",
			records: mockRecords{records: records},
			wantBody: []string{
				"RAG Model Evaluation Dashboard",
				"Q2",
				"88.00%",
				"80.00%",
				"30.00%",
				"#4caf50",
			},
			notBody: []string{"No evaluation results available."},
		},
		{
			name:     "No records",
			records:  mockRecords{records: []models.EvaluationRecord{}},
			wantBody: []string{"No evaluation results available."},
			notBody:  []string{"Average Accuracy"},
		},
		{
			name:     "Source unavailable",
			records:  mockRecords{err: errors.New("file not found")},
			wantBody: []string{"Evaluation results could not be loaded."},
			notBody:  []string{"Average Accuracy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &mockRetriever{}, tt.records, nil)

			w := f.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			for _, s := range tt.wantBody {
				assert.Contains(t, w.Body.String(), s)
			}
			for _, s := range tt.notBody {
				assert.NotContains(t, w.Body.String(), s)
			}
		})
	}
}

func TestHandleRecords(t *testing.T) {
	f := newFixture(t, &mockRetriever{}, mockRecords{records: []models.EvaluationRecord{
		{Question: "Q1", Accuracy: 1},
	}}, nil)

	w := f.do(httptest.NewRequest(http.MethodGet, "/output.json", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	got, err := evaluation.DecodeRecords(w.Body)
	require.NoError(t, err)
	assert.Equal(t, "Q1", got[0].Question)

	f = newFixture(t, &mockRetriever{}, mockRecords{err: errors.New("boom")}, nil)
	w = f.do(httptest.NewRequest(http.MethodGet, "/output.json", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func uploadRequest(t *testing.T, content string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "cases.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/testcases/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleUploadTestCases(t *testing.T) {
	f := newFixture(t, &mockRetriever{}, mockRecords{}, nil)

	sheet := "Question,Answer,Ground Truth phrases,Relevant Documents (File names)\n" +
		"skip,skip,,\n" +
		"skip,skip,,\n" +
		"What is RAG?,Retrieval augmented generation,\"retrieval, generation\",rag.pdf\n"

	w := f.do(uploadRequest(t, sheet))

	require.Equal(t, http.StatusSeeOther, w.Code)
	cases := f.store.List()
	require.Len(t, cases, 1)
	assert.Equal(t, 1, cases[0].ID)
	assert.Equal(t, "What is RAG?", cases[0].Input)
	assert.Equal(t, []string{"retrieval", "generation"}, cases[0].GroundTruthPhrases)
	assert.Equal(t, []string{"rag.pdf"}, cases[0].RelevantDocuments)

	board := f.do(httptest.NewRequest(http.MethodGet, "/testcases", nil)).Body.String()
	assert.Contains(t, board, "What is RAG?")
	assert.Contains(t, board, "retrieval, generation")

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.CSVImports.WithLabelValues("success")), 0)
}

func TestHandleUploadTestCasesMalformed(t *testing.T) {
	store := evaluation.NewStore(nil)
	store.Add()
	f := newFixture(t, &mockRetriever{}, mockRecords{}, store)

	w := f.do(uploadRequest(t, "Question,Answer\n\xff\xfe,x\n"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Error parsing CSV file")
	assert.Len(t, f.store.List(), 1)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.CSVImports.WithLabelValues("error")), 0)

	w = f.do(postForm("/testcases/upload", url.Values{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.store.List(), 1)
}

func TestHandleTestCaseEdits(t *testing.T) {
	f := newFixture(t, &mockRetriever{}, mockRecords{}, nil)

	w := f.do(httptest.NewRequest(http.MethodPost, "/testcases", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/testcases#testcase-1", w.Header().Get("Location"))
	f.do(httptest.NewRequest(http.MethodPost, "/testcases", nil))

	tests := []struct {
		name       string
		target     string
		values     url.Values
		wantStatus int
	}{
		{
			name:       "Update input",
			target:     "/testcases/1",
			values:     url.Values{"field": {"input"}, "value": {"What is a vector store?"}},
			wantStatus: http.StatusSeeOther,
		},
		{
			name:       "Update list field",
			target:     "/testcases/1",
			values:     url.Values{"field": {"relevantDocuments"}, "value": {"a.pdf, b.pdf"}},
			wantStatus: http.StatusSeeOther,
		},
		{
			name:       "Unknown id",
			target:     "/testcases/99",
			values:     url.Values{"field": {"input"}, "value": {"ignored"}},
			wantStatus: http.StatusSeeOther,
		},
		{
			name:       "Read-only field",
			target:     "/testcases/1",
			values:     url.Values{"field": {"actualOutput"}, "value": {"forged"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Invalid id",
			target:     "/testcases/abc",
			values:     url.Values{"field": {"input"}, "value": {"x"}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(postForm(tt.target, tt.values))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	tc, ok := f.store.Get(1)
	require.True(t, ok)
	assert.Equal(t, "What is a vector store?", tc.Input)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, tc.RelevantDocuments)
	assert.Empty(t, tc.ActualOutput)

	w = f.do(httptest.NewRequest(http.MethodPost, "/testcases/1/evaluate", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
	tc, _ = f.store.Get(1)
	assert.Equal(t, evaluation.PlaceholderOutput, tc.ActualOutput)

	w = f.do(httptest.NewRequest(http.MethodPost, "/testcases/evaluate", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
	for _, tc := range f.store.List() {
		assert.Equal(t, evaluation.PlaceholderOutput, tc.ActualOutput)
	}
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Evaluations.WithLabelValues("success")), 0)

	w = f.do(httptest.NewRequest(http.MethodPost, "/testcases/1/delete", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
	cases := f.store.List()
	require.Len(t, cases, 1)
	assert.Equal(t, 2, cases[0].ID)
}

func TestHandleEvaluateFailure(t *testing.T) {
	store := evaluation.NewStore(failingScorer{})
	store.Add()
	f := newFixture(t, &mockRetriever{}, mockRecords{}, store)

	for _, target := range []string{"/testcases/1/evaluate", "/testcases/evaluate"} {
		w := f.do(httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "Error evaluating test case")
	}

	tc, _ := f.store.Get(1)
	assert.Empty(t, tc.ActualOutput)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Evaluations.WithLabelValues("error")), 0)
}
