package command_test

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/jarvis/internal/command"
)

func text(s string) command.Handler {
	return func(context.Context, []string) (command.Output, error) {
		return command.Text(s), nil
	}
}

func mustBuild(t *testing.T, b *command.Builder) *command.Registry {
	t.Helper()
	r, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return r
}

func musicTable(t *testing.T) *command.Registry {
	t.Helper()
	return mustBuild(t, command.NewBuilder().
		Register([]command.Term{command.AnyOf("hello", "hi")}, text("greet"), "greet", false).
		Register([]command.Term{command.Required("play"), command.Required("music")}, text("song"), "play a song", true).
		Register([]command.Term{command.Required("play"), command.Required("playlist")}, text("playlist"), "play a playlist", true).
		Register([]command.Term{command.AnyOf("stop", "pause"), command.AnyOf("music", "song")}, text("stop"), "stop", false))
}

func TestFind_ExtractsArgs(t *testing.T) {
	t.Parallel()

	r := musicTable(t)
	m, ok := r.Find([]string{"PLAY", "some", "Music"})
	if !ok {
		t.Fatal("Find: ok = false, want true")
	}
	if m.Command.Description != "play a song" {
		t.Errorf("matched %q, want %q", m.Command.Description, "play a song")
	}
	if want := []string{"some"}; !slices.Equal(m.Args, want) {
		t.Errorf("Args = %q, want %q", m.Args, want)
	}
}

func TestFind_ArgsKeepOrderAndCase(t *testing.T) {
	t.Parallel()

	m, ok := musicTable(t).Find([]string{"play", "Bohemian", "music", "Rhapsody", "MUSIC"})
	if !ok {
		t.Fatal("Find: ok = false")
	}
	if want := []string{"Bohemian", "Rhapsody"}; !slices.Equal(m.Args, want) {
		t.Errorf("Args = %q, want %q", m.Args, want)
	}
}

func TestFind_AnyOfRemovesOnlyPresentAlternative(t *testing.T) {
	t.Parallel()

	r := mustBuild(t, command.NewBuilder().
		Register([]command.Term{command.AnyOf("stop", "pause"), command.Required("now")}, text("x"), "x", true))

	// "stop" satisfies the term first, so "pause" is an argument.
	m, ok := r.Find([]string{"pause", "stop", "now", "please"})
	if !ok {
		t.Fatal("Find: ok = false")
	}
	if want := []string{"pause", "please"}; !slices.Equal(m.Args, want) {
		t.Errorf("Args = %q, want %q", m.Args, want)
	}
}

func TestFind_NoExtractLeavesArgsNil(t *testing.T) {
	t.Parallel()

	m, ok := musicTable(t).Find([]string{"hello", "there"})
	if !ok || m.Index != 0 {
		t.Fatalf("Find = (%+v, %v), want first command", m, ok)
	}
	if m.Args != nil {
		t.Errorf("Args = %q, want nil", m.Args)
	}
}

func TestFind_RegistrationOrderWins(t *testing.T) {
	t.Parallel()

	r := musicTable(t)
	// Both "play music" and "play playlist" match; the earlier one wins.
	m, ok := r.Find([]string{"play", "playlist", "music"})
	if !ok || m.Index != 1 {
		t.Errorf("Find = index %d ok %v, want index 1", m.Index, ok)
	}
	// Without "music", the playlist command is reached.
	m, ok = r.Find([]string{"play", "playlist", "chill"})
	if !ok || m.Index != 2 {
		t.Errorf("Find = index %d ok %v, want index 2", m.Index, ok)
	}
	if want := []string{"chill"}; !slices.Equal(m.Args, want) {
		t.Errorf("Args = %q, want %q", m.Args, want)
	}
}

func TestFind_PermutationInvariant(t *testing.T) {
	t.Parallel()

	r := musicTable(t)
	perms := [][]string{
		{"pause", "the", "song"},
		{"song", "pause", "the"},
		{"the", "song", "pause"},
		{"SONG", "The", "Pause"},
	}
	for _, p := range perms {
		m, ok := r.Find(p)
		if !ok || m.Index != 3 {
			t.Errorf("Find(%q) = index %d ok %v, want index 3", p, m.Index, ok)
		}
	}
}

func TestFind_NotFound(t *testing.T) {
	t.Parallel()

	r := musicTable(t)
	for _, words := range [][]string{nil, {}, {"what", "time", "is", "it"}, {"play"}, {""}} {
		if m, ok := r.Find(words); ok {
			t.Errorf("Find(%q) = %+v, want not found", words, m)
		}
	}
}

func TestBuild_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		b       *command.Builder
		wantErr string
	}{
		{
			name:    "no terms",
			b:       command.NewBuilder().Register(nil, text("x"), "empty", false),
			wantErr: "no terms",
		},
		{
			name:    "nil handler",
			b:       command.NewBuilder().Register([]command.Term{command.Required("x")}, nil, "nil", false),
			wantErr: "nil handler",
		},
		{
			name:    "empty term",
			b:       command.NewBuilder().Register([]command.Term{command.AnyOf(" ", "")}, text("x"), "blank", false),
			wantErr: "term 0 has no words",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tc.b.Build()
			if err == nil {
				t.Fatal("Build: want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Build error = %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestRegistry_IsolatedFromBuilder(t *testing.T) {
	t.Parallel()

	terms := []command.Term{command.Required("hello")}
	b := command.NewBuilder().Register(terms, text("x"), "x", false)
	r := mustBuild(t, b)

	b.Register([]command.Term{command.Required("later")}, text("y"), "y", false)
	if r.Len() != 1 {
		t.Errorf("Len = %d after further Register, want 1", r.Len())
	}
	cmds := r.Commands()
	cmds[0].Description = "changed"
	if r.Commands()[0].Description != "x" {
		t.Error("mutating Commands() result changed the registry")
	}

	cmds[0].Terms[0] = command.Required("bye")
	if got := r.Commands()[0].Terms[0].String(); got != "hello" {
		t.Errorf("Terms[0] = %q after mutating a copy, want hello", got)
	}
	if _, ok := r.Find([]string{"hello"}); !ok {
		t.Error("Find(hello) failed after mutating a copy of Terms")
	}
}

func TestRegistry_Vocabulary(t *testing.T) {
	t.Parallel()

	got := musicTable(t).Vocabulary()
	want := []string{"hello", "hi", "play", "music", "playlist", "stop", "pause", "song"}
	if !slices.Equal(got, want) {
		t.Errorf("Vocabulary = %q, want %q", got, want)
	}
}

func TestTerm_String(t *testing.T) {
	t.Parallel()

	if got := command.AnyOf("Hello", "HI").String(); got != "hello|hi" {
		t.Errorf("String = %q, want %q", got, "hello|hi")
	}
	c := command.Command{Terms: []command.Term{command.AnyOf("stop", "pause"), command.Required("music")}}
	if got := c.String(); got != "stop|pause music" {
		t.Errorf("Command.String = %q, want %q", got, "stop|pause music")
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := command.Tokenize("Jarvis, play   \"Hey Jude\" music!")
	want := []string{"Jarvis", "play", "Hey", "Jude", "music"}
	if !slices.Equal(got, want) {
		t.Errorf("Tokenize = %q, want %q", got, want)
	}
}
