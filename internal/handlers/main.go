package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/isotope/ragatouille"
	"github.com/isotope/ragatouille/internal/chat"
	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
)

// RecordSource provides the scored evaluation records shown on the dashboard.
type RecordSource interface {
	Records(ctx context.Context) ([]models.EvaluationRecord, error)
}

// Main serves the chat widget, the evaluation dashboard and the test-case board. It owns the chat session
// and publishes bot replies to the browser through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	session   *chat.Session
	retriever chat.Retriever
	store     *evaluation.Store
	records   RecordSource
	theme     models.Theme

	pending *sync.WaitGroup
	metrics *Metrics
	logger  *slog.Logger
}

const (
	messagesSSETopic = "messages"

	errLoggerKey = "err"
	themeCookie  = "theme"
)

// NewMain creates a new Main instance. It parses the HTML templates from the embedded filesystem and
// initializes the SSE server that pushes bot replies. Every retrieval call goes through the metrics
// wrapper.
func NewMain(
	retriever chat.Retriever,
	records RecordSource,
	store *evaluation.Store,
	theme models.Theme,
	metrics *Metrics,
	logger *slog.Logger,
) (Main, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			highlighting.NewHighlighting(highlighting.WithStyle("monokai")),
		),
	)

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"markdown": func(s string) template.HTML { return renderMarkdown(md, s) },
		"join":     evaluation.JoinList,
		"score":    func(f float64) string { return fmt.Sprintf("%.2f", f) },
		"field":    newFieldView,
	}).ParseFS(
		ragatouille.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, messagesSSETopic},
				}, true
			},
		},
		templates: tmpl,
		markdown:  md,
		session:   chat.NewSession(),
		retriever: metrics.Retriever(retriever),
		store:     store,
		records:   records,
		theme:     theme,
		pending:   &sync.WaitGroup{},
		metrics:   metrics,
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

// Register mounts every page and action of Main on mux.
func (m Main) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", m.HandleChat)
	mux.HandleFunc("POST /messages", m.HandleMessages)
	mux.HandleFunc("GET /sse", m.HandleSSE)
	mux.HandleFunc("POST /theme", m.HandleTheme)

	mux.HandleFunc("GET /dashboard", m.HandleDashboard)
	mux.HandleFunc("GET /output.json", m.HandleRecords)

	mux.HandleFunc("GET /testcases", m.HandleTestCases)
	mux.HandleFunc("POST /testcases", m.HandleAddTestCase)
	mux.HandleFunc("POST /testcases/upload", m.HandleUploadTestCases)
	mux.HandleFunc("POST /testcases/evaluate", m.HandleEvaluateAll)
	mux.HandleFunc("POST /testcases/{id}", m.HandleUpdateTestCase)
	mux.HandleFunc("POST /testcases/{id}/delete", m.HandleRemoveTestCase)
	mux.HandleFunc("POST /testcases/{id}/evaluate", m.HandleEvaluateTestCase)
}

// HandleSSE streams bot replies to the browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// HandleTheme flips the color scheme stored in the theme cookie and sends the browser back where it
// came from.
func (m Main) HandleTheme(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     themeCookie,
		Value:    string(m.themeFor(r).Toggle()),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	back := r.Header.Get("Referer")
	if back == "" {
		back = "/"
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

func (m Main) themeFor(r *http.Request) models.Theme {
	c, err := r.Cookie(themeCookie)
	if err != nil {
		return m.theme
	}
	return models.ParseTheme(c.Value)
}

func (m Main) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name, data); err != nil {
		m.logger.Error("Failed to execute template",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Shutdown waits for pending bot replies, then gracefully terminates the SSE server. It broadcasts a
// close message to all connected clients and waits up to 5 seconds for connections to terminate. After
// the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	e := &sse.Message{Type: sse.Type("closeChat")}
	// SSE events must carry data, so the close event gets a placeholder payload
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
