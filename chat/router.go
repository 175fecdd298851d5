// Package chat ingests Twitch IRC traffic, classifies it, and routes plain
// messages and commands to history, broadcast, and the chat reply sink.
package chat

import "strings"

// Kind is the classification of one incoming chat line.
type Kind int

const (
	// KindDropped lines are discarded before any further processing.
	KindDropped Kind = iota
	// KindMessage lines are ordinary chat traffic.
	KindMessage
	// KindCommand lines start with "!" and carry a command token.
	KindCommand
)

// Classified is the routing decision for a line.
type Classified struct {
	Kind Kind
	// Command is the lowercased token for KindCommand lines.
	Command string
	// Arg is the remainder after the first ":", empty when absent.
	Arg string
}

// Classify decides what to do with one chat line. Lines containing "http"
// anywhere are dropped outright (link spam protection, applied before any
// command parsing). A "!" prefix marks a command: the part before the first
// ":" is the token, lowercased and trimmed; everything after it is the
// argument. Without a ":" the whole remainder is the token.
func Classify(text string) Classified {
	if strings.Contains(text, "http") {
		return Classified{Kind: KindDropped}
	}
	if !strings.HasPrefix(text, "!") {
		return Classified{Kind: KindMessage}
	}
	rest := strings.TrimPrefix(text, "!")
	token, arg, found := strings.Cut(rest, ":")
	token = strings.ToLower(strings.TrimSpace(token))
	if !found {
		return Classified{Kind: KindCommand, Command: token}
	}
	return Classified{Kind: KindCommand, Command: token, Arg: strings.TrimSpace(arg)}
}
