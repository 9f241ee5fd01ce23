package chat

import "unicode/utf8"

// MaxInputLength is the maximum number of characters accepted by the input box.
const MaxInputLength = 1000

// Key is a key pressed in the input box. Only Enter has a special meaning.
type Key string

// KeyEnter is the Enter key.
const KeyEnter Key = "Enter"

// Composer models the chat input box: a bounded text buffer with a remaining-characters counter and the
// Enter / Ctrl+Enter keyboard contract.
type Composer struct {
	text string
}

// Text returns the current content of the input box.
func (c *Composer) Text() string {
	return c.text
}

// SetText replaces the content, cutting it at MaxInputLength characters.
func (c *Composer) SetText(text string) {
	c.text = truncate(text, MaxInputLength)
}

// Reset clears the input box after a send.
func (c *Composer) Reset() {
	c.text = ""
}

// Remaining is the live counter shown below the input box.
func (c *Composer) Remaining() int {
	return MaxInputLength - utf8.RuneCountInString(c.text)
}

// Warn reports whether the counter should be highlighted, once fewer than 5% of the characters are left.
func (c *Composer) Warn() bool {
	return float64(c.Remaining()) < 0.05*MaxInputLength
}

// KeyDown applies a key press at the given cursor position, counted in characters. Plain Enter asks for
// a submit and never inserts a newline. Ctrl+Enter inserts a newline at the cursor and returns the new
// cursor position. Other keys are left to the input box.
func (c *Composer) KeyDown(key Key, ctrl bool, cursor int) (submit bool, newCursor int) {
	if key != KeyEnter {
		return false, cursor
	}
	if !ctrl {
		return true, cursor
	}

	runes := []rune(c.text)
	if len(runes) >= MaxInputLength {
		return false, cursor
	}
	cursor = max(0, min(cursor, len(runes)))

	out := make([]rune, 0, len(runes)+1)
	out = append(out, runes[:cursor]...)
	out = append(out, '\n')
	out = append(out, runes[cursor:]...)
	c.text = string(out)

	return false, cursor + 1
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
