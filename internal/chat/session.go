// Package chat holds the state of the chat widget: the message log, the request state machine around the
// retrieval call, and the input box rules.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/isotope/ragatouille/internal/models"
)

// Retrieval is the answer returned by the retrieval service.
type Retrieval struct {
	Info    string
	Sources []string
}

// Retriever sends a query to the retrieval service.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (Retrieval, error)
}

// State is the request state of a Session.
type State int

const (
	// Idle means no retrieval call is in flight.
	Idle State = iota
	// AwaitingResponse means a query was submitted and its reply has not arrived yet.
	AwaitingResponse
)

func (s State) String() string {
	if s == AwaitingResponse {
		return "awaiting_response"
	}
	return "idle"
}

const (
	// Greeting is the bot message every session starts with.
	Greeting = "Hello! How can I assist you today?"
	// FallbackReply replaces the bot reply when the retrieval call fails.
	FallbackReply = "Sorry, there was an error retrieving the information."
)

var (
	// ErrEmptyInput is returned when the submitted text is blank after trimming.
	ErrEmptyInput = errors.New("message is empty")
	// ErrBusy is returned when a query is submitted while the previous one is still awaiting its reply.
	ErrBusy = errors.New("a reply is still pending")
)

// Session is the message log of one chat widget. Messages are kept newest-first.
type Session struct {
	mu       sync.Mutex
	messages []models.Message
	state    State

	now func() time.Time
}

// NewSession returns an idle session seeded with the greeting.
func NewSession() *Session {
	s := &Session{now: time.Now}
	s.messages = []models.Message{s.newMessage(Greeting, true)}
	return s
}

func (s *Session) newMessage(text string, isBot bool) models.Message {
	return models.Message{
		ID:        uuid.New().String(),
		Text:      text,
		IsBot:     isBot,
		Timestamp: s.now(),
	}
}

// Messages returns a copy of the log, newest first.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// State reports whether a reply is pending.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loading reports whether the loading indicator should be shown.
func (s *Session) Loading() bool {
	return s.State() == AwaitingResponse
}

// Submit prepends the user's message and moves the session to AwaitingResponse. It returns the trimmed
// query that must be sent to the retrieval service, along with the message that was added. Input past
// MaxInputLength characters is cut off.
func (s *Session) Submit(input string) (string, models.Message, error) {
	input = truncate(input, MaxInputLength)
	query := strings.TrimSpace(input)
	if query == "" {
		return "", models.Message{}, ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == AwaitingResponse {
		return "", models.Message{}, ErrBusy
	}

	msg := s.newMessage(input, false)
	s.messages = prepend(s.messages, msg)
	s.state = AwaitingResponse

	return query, msg, nil
}

// Resolve prepends the bot reply and returns the session to Idle.
func (s *Session) Resolve(reply string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.newMessage(reply, true)
	s.messages = prepend(s.messages, msg)
	s.state = Idle

	return msg
}

// Send runs a whole exchange: it submits the input, asks the retriever, and resolves with the retrieved
// text. Retrieval failures never reach the caller; they are logged and answered with FallbackReply.
func (s *Session) Send(ctx context.Context, r Retriever, logger *slog.Logger, input string) (models.Message, error) {
	query, _, err := s.Submit(input)
	if err != nil {
		return models.Message{}, err
	}

	return s.Resolve(Reply(ctx, r, logger, query)), nil
}

// Reply asks the retriever and returns the text to show as the bot message, or FallbackReply on failure.
func Reply(ctx context.Context, r Retriever, logger *slog.Logger, query string) string {
	res, err := r.Retrieve(ctx, query)
	if err != nil {
		logger.Error("Error fetching retrieved info",
			slog.String("query", query),
			slog.String("err", err.Error()))
		return FallbackReply
	}
	return res.Info
}

func prepend(msgs []models.Message, msg models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs)+1)
	out = append(out, msg)
	return append(out, msgs...)
}
