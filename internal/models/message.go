package models

import "time"

// Message is a single chat bubble. Messages are never mutated after creation; the chat log only grows by
// prepending new ones.
type Message struct {
	// ID addresses the bubble in server-sent updates. It carries no ordering meaning.
	ID        string
	Text      string
	IsBot     bool
	Timestamp time.Time
}

// Theme is the color scheme the pages are rendered with.
type Theme string

const (
	// ThemeDark is the default scheme.
	ThemeDark Theme = "dark"
	// ThemeLight is the alternative scheme.
	ThemeLight Theme = "light"
)

// ParseTheme returns the theme named by s, falling back to ThemeDark for anything unknown.
func ParseTheme(s string) Theme {
	if Theme(s) == ThemeLight {
		return ThemeLight
	}
	return ThemeDark
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// Label is the caption shown on the theme toggle button.
func (t Theme) Label() string {
	if t == ThemeDark {
		return "🌙 Dark Mode"
	}
	return "☀️ Light Mode"
}
