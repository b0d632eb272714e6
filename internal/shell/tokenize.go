package shell

import (
	"strings"
	"unicode"
)

// Tokenize splits a command line into an argument vector using shell-style
// word splitting. No shell is involved; these rules are the only ones applied:
//
//   - whitespace separates tokens outside quotes
//   - a backslash appends the next character literally, inside or outside quotes
//   - '...' and "..." group text (including whitespace) until the matching quote
//   - adjacent quoted and unquoted segments join into one token ("a"'b'c -> abc)
//   - an empty quoted pair yields an empty token
//   - a final token without trailing whitespace is still emitted
//
// Existing keymaps depend on these exact rules; keep the state machine stable.
func Tokenize(cmd string) []string {
	tokens := make([]string, 0, 1)
	var buf strings.Builder

	var (
		inToken   bool // the current token has content (or an open quote)
		quoted    bool // inside a quoted region
		quoteDone bool // a quoted region just closed; its token is still pending
		escaping  bool // previous rune was an unconsumed backslash
		quoteRune rune
	)

	emit := func() {
		tokens = append(tokens, buf.String())
		buf.Reset()
	}

	for _, c := range cmd {
		switch {
		case escaping:
			inToken = true
			escaping = false
			buf.WriteRune(c)

		case unicode.IsSpace(c):
			if inToken {
				if quoted {
					buf.WriteRune(c)
				} else {
					inToken = false
					emit()
				}
			} else if quoteDone {
				quoteDone = false
				emit()
			}

		case c == '"' || c == '\'':
			switch {
			case !inToken:
				inToken = true
				quoted = true
				quoteRune = c
			case !quoted:
				quoted = true
				quoteRune = c
			case c == quoteRune:
				inToken = false
				quoted = false
				quoteDone = true
			default:
				buf.WriteRune(c)
			}

		case c == '\\':
			escaping = true

		default:
			inToken = true
			buf.WriteRune(c)
		}
	}

	if inToken || quoteDone {
		emit()
	}
	return tokens
}
