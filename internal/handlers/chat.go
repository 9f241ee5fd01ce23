package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/isotope/ragatouille/internal/chat"
	"github.com/isotope/ragatouille/internal/models"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	ID        string
	Text      string
	IsBot     bool
	Timestamp time.Time
}

type chatPageData struct {
	Title     string
	Theme     models.Theme
	Messages  []message
	Loading   bool
	MaxLength int
}

// messagesSSEType is the event type carrying a rendered bot reply.
var messagesSSEType = sse.Type("messages")

// replyTimeout bounds the background retrieval of a bot reply.
const replyTimeout = 2 * time.Minute

func toMessages(msgs []models.Message) []message {
	out := make([]message, len(msgs))
	for i, msg := range msgs {
		out[i] = message{
			ID:        msg.ID,
			Text:      msg.Text,
			IsBot:     msg.IsBot,
			Timestamp: msg.Timestamp,
		}
	}
	return out
}

// HandleChat renders the chat widget with the message log, newest message first.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	m.render(w, http.StatusOK, "chat.html", chatPageData{
		Title:     "RAGatouille Chatbot",
		Theme:     m.themeFor(r),
		Messages:  toMessages(m.session.Messages()),
		Loading:   m.session.Loading(),
		MaxLength: chat.MaxInputLength,
	})
}

// HandleMessages accepts a user message from the "message" form field. The user bubble and a loading
// bubble are rendered right away; the bot reply is fetched in the background and pushed to the browser
// over SSE.
//
// A blank message is rejected with 400 and a message sent while a reply is pending with 409.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	query, um, err := m.session.Submit(r.FormValue("message"))
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrBusy):
		m.logger.Warn("Message rejected while awaiting a reply")
		http.Error(w, "A reply is still pending", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.metrics.chatMessage(false)

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "loading_message", nil); err != nil {
		m.logger.Error("Failed to render loading message", slog.String(errLoggerKey, err.Error()))
		m.session.Resolve(chat.FallbackReply)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(&sb, "user_message", toMessages([]models.Message{um})[0]); err != nil {
		m.logger.Error("Failed to render user message", slog.String(errLoggerKey, err.Error()))
		m.session.Resolve(chat.FallbackReply)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The bubbles must reach the browser before the reply can be published over SSE.
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(sb.String()))
	if err := http.NewResponseController(w).Flush(); err != nil {
		m.logger.Debug("Response flush unsupported", slog.String(errLoggerKey, err.Error()))
	}

	m.pending.Add(1)
	go m.reply(query)
}

// reply fetches the bot reply for query, appends it to the log and publishes it. Retrieval failures are
// turned into the fallback reply by chat.Reply, so the session always returns to Idle.
func (m Main) reply(query string) {
	defer m.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	bm := m.session.Resolve(chat.Reply(ctx, m.retriever, m.logger, query))
	m.metrics.chatMessage(true)

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "bot_message", toMessages([]models.Message{bm})[0]); err != nil {
		m.logger.Error("Failed to render bot message", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(sb.String())
	if err := m.sseSrv.Publish(&msg, messagesSSETopic); err != nil {
		m.logger.Error("Failed to publish message",
			slog.String("messageID", bm.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}
