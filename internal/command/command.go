// Package command holds the ordered keyword table that maps transcripts to
// handlers.
//
// A table is assembled once with a [Builder] and frozen into a [Registry].
// Matching scans commands in registration order and the first command whose
// every [Term] is satisfied wins, so specific commands must be registered
// before more general ones that would shadow them.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Term is one keyword requirement of a command: either a single word that
// must be present or a set of interchangeable alternatives.
type Term struct {
	words []string
}

// Required returns a term satisfied only by word.
func Required(word string) Term {
	return AnyOf(word)
}

// AnyOf returns a term satisfied by any one of words. When several are
// present the first in declaration order is the one that satisfies it.
func AnyOf(words ...string) Term {
	t := Term{words: make([]string, 0, len(words))}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			t.words = append(t.words, w)
		}
	}
	return t
}

// Words returns a copy of the term's lower-cased alternatives.
func (t Term) Words() []string {
	return append([]string(nil), t.words...)
}

// String renders the term as "play" or "hello|hi".
func (t Term) String() string {
	return strings.Join(t.words, "|")
}

// satisfiedBy returns the first alternative present in words.
func (t Term) satisfiedBy(words map[string]struct{}) (string, bool) {
	for _, w := range t.words {
		if _, ok := words[w]; ok {
			return w, true
		}
	}
	return "", false
}

// Output is what a handler returns: [Text] or [SkillResponse]. The registry
// never inspects it.
type Output interface {
	isOutput()
}

// Text is a plain response.
type Text string

func (Text) isOutput() {}

// SkillResponse is the structured response of a skill service.
type SkillResponse struct {
	Response     string
	Success      bool
	ErrorMessage string
}

func (SkillResponse) isOutput() {}

// Handler runs a matched command. args holds the non-keyword words when the
// command extracts arguments and is nil otherwise.
type Handler func(ctx context.Context, args []string) (Output, error)

// Command is a registered table entry.
type Command struct {
	Terms       []Term
	Handler     Handler
	Description string
	ExtractArgs bool
}

// String renders the command's terms, e.g. "play music" or "stop|pause music|song".
func (c Command) String() string {
	parts := make([]string, len(c.Terms))
	for i, t := range c.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// Match is the result of a successful [Registry.Find].
type Match struct {
	// Command is the winning entry.
	Command Command

	// Index is the command's position in registration order.
	Index int

	// Args are the remaining input words, original order and case, when the
	// command extracts arguments.
	Args []string
}

// Builder accumulates commands in priority order.
type Builder struct {
	cmds []Command
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Register appends a command. Registration order is match priority.
func (b *Builder) Register(terms []Term, h Handler, description string, extractArgs bool) *Builder {
	ts := make([]Term, len(terms))
	for i, t := range terms {
		ts[i] = Term{words: t.Words()}
	}
	b.cmds = append(b.cmds, Command{
		Terms:       ts,
		Handler:     h,
		Description: description,
		ExtractArgs: extractArgs,
	})
	return b
}

// Build validates the table and freezes it. Commands without terms, without a
// handler or with a term that has no words are rejected; all problems are
// reported together.
func (b *Builder) Build() (*Registry, error) {
	var errs []error
	for i, c := range b.cmds {
		if len(c.Terms) == 0 {
			errs = append(errs, fmt.Errorf("command %d (%q): no terms", i, c.Description))
		}
		if c.Handler == nil {
			errs = append(errs, fmt.Errorf("command %d (%q): nil handler", i, c.Description))
		}
		for j, t := range c.Terms {
			if len(t.words) == 0 {
				errs = append(errs, fmt.Errorf("command %d (%q): term %d has no words", i, c.Description, j))
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("command: invalid table: %w", errors.Join(errs...))
	}
	return &Registry{cmds: append([]Command(nil), b.cmds...)}, nil
}

// Registry is an immutable, ordered command table. It is safe for concurrent
// use.
type Registry struct {
	cmds []Command
}

// Find returns the first command, in registration order, whose every term is
// satisfied by words. Matching is case-insensitive. ok is false when nothing
// matches.
func (r *Registry) Find(words []string) (m Match, ok bool) {
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[strings.ToLower(w)] = struct{}{}
	}

	for i, c := range r.cmds {
		satisfied, all := satisfyAll(c.Terms, present)
		if !all {
			continue
		}
		m = Match{Command: c, Index: i}
		if c.ExtractArgs {
			m.Args = extractArgs(words, satisfied)
		}
		return m, true
	}
	return Match{}, false
}

func satisfyAll(terms []Term, present map[string]struct{}) (map[string]struct{}, bool) {
	satisfied := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		w, ok := t.satisfiedBy(present)
		if !ok {
			return nil, false
		}
		satisfied[w] = struct{}{}
	}
	return satisfied, true
}

// extractArgs drops every word equal to a satisfying keyword. Only the
// alternative that satisfied an AnyOf term is removed.
func extractArgs(words []string, satisfied map[string]struct{}) []string {
	args := make([]string, 0, len(words))
	for _, w := range words {
		if _, kw := satisfied[strings.ToLower(w)]; kw {
			continue
		}
		args = append(args, w)
	}
	return args
}

// Commands returns a copy of the table in registration order. Each command's
// Terms slice is copied too.
func (r *Registry) Commands() []Command {
	out := make([]Command, len(r.cmds))
	for i, c := range r.cmds {
		c.Terms = append([]Term(nil), c.Terms...)
		out[i] = c
	}
	return out
}

// Len returns the number of commands.
func (r *Registry) Len() int { return len(r.cmds) }

// Vocabulary returns every distinct keyword, in first-seen order.
func (r *Registry) Vocabulary() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range r.cmds {
		for _, t := range c.Terms {
			for _, w := range t.words {
				if _, dup := seen[w]; dup {
					continue
				}
				seen[w] = struct{}{}
				out = append(out, w)
			}
		}
	}
	return out
}

// Tokenize splits text on whitespace and trims punctuation from both ends of
// each word. Case is preserved.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
