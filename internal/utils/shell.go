package utils

import "strings"

// EscapeSingleQuotes makes s safe to place between single quotes in a
// POSIX shell word by closing, escaping and reopening the quote.
func EscapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// ShellQuote wraps s in single quotes unless it is made only of characters
// the shell never interprets.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.HasPrefix(s, "~/") {
		return "~/" + ShellQuote(s[2:])
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@%+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + EscapeSingleQuotes(s) + "'"
}
