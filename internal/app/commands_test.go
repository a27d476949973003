package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/jarvis/internal/dispatch"
	"github.com/MrWong99/jarvis/internal/skill"
)

type spotifyCall struct {
	method string
	body   map[string]any
}

// fakeSpotify is an httptest Spotify skill service that records calls.
type fakeSpotify struct {
	*httptest.Server

	mu    sync.Mutex
	calls []spotifyCall
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()
	f := &fakeSpotify{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/v1/")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.calls = append(f.calls, spotifyCall{method: method, body: body})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "done " + method, "success": true})
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeSpotify) last() (spotifyCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return spotifyCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

func newDispatcher(t *testing.T, sp *skill.Spotify) *dispatch.Dispatcher {
	t.Helper()
	reg, err := DefaultCommands(sp)
	if err != nil {
		t.Fatalf("DefaultCommands: %v", err)
	}
	return dispatch.New(reg)
}

func TestDefaultCommands_Table(t *testing.T) {
	t.Parallel()

	reg, err := DefaultCommands(nil)
	if err != nil {
		t.Fatalf("DefaultCommands: %v", err)
	}
	want := []string{
		"hello|hi",
		"play music",
		"play playlist",
		"stop|pause music|song",
		"next|skip music|song",
		"continue|unpause|resume music|song",
		"shuffle|change music|song",
		"volume|sound high|max",
		"volume|sound medium|normal",
		"volume|sound low",
		"date|dates",
		"list|lists|tell commands|command",
	}
	cmds := reg.Commands()
	if len(cmds) != len(want) {
		t.Fatalf("len(Commands()) = %d, want %d", len(cmds), len(want))
	}
	for i, c := range cmds {
		if got := c.String(); got != want[i] {
			t.Errorf("command %d = %q, want %q", i, got, want[i])
		}
		wantExtract := i >= 1 && i <= 9
		if c.ExtractArgs != wantExtract {
			t.Errorf("command %d ExtractArgs = %v, want %v", i, c.ExtractArgs, wantExtract)
		}
	}
}

func TestDefaultCommands_Spotify(t *testing.T) {
	t.Parallel()

	svc := newFakeSpotify(t)
	client, err := skill.NewClient("spotify", []string{svc.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	d := newDispatcher(t, skill.NewSpotify(client))

	tests := []struct {
		text       string
		wantMethod string
		wantBody   map[string]any
	}{
		{"play music Bohemian Rhapsody", skill.MethodPlaySong, map[string]any{"name": "Bohemian Rhapsody"}},
		{"please play the playlist Chill Vibes", skill.MethodPlayPlaylist, map[string]any{"name": "please the Chill Vibes"}},
		{"pause the song", skill.MethodStop, nil},
		{"skip this song", skill.MethodNext, nil},
		{"resume music", skill.MethodUnpause, nil},
		{"shuffle my music", skill.MethodToggleShuffle, nil},
		{"volume max", skill.MethodSetVolume, map[string]any{"level": float64(volumeHigh)}},
		{"sound to normal", skill.MethodSetVolume, map[string]any{"level": float64(volumeMedium)}},
		{"turn the volume low", skill.MethodSetVolume, map[string]any{"level": float64(volumeLow)}},
	}
	for _, tt := range tests {
		res := d.Dispatch(context.Background(), tt.text)
		if !res.Success {
			t.Errorf("Dispatch(%q) failed: %q", tt.text, res.Error)
			continue
		}
		if want := "done " + tt.wantMethod; res.Response != want {
			t.Errorf("Dispatch(%q).Response = %q, want %q", tt.text, res.Response, want)
		}
		call, ok := svc.last()
		if !ok {
			t.Fatalf("Dispatch(%q): no skill call", tt.text)
		}
		if call.method != tt.wantMethod {
			t.Errorf("Dispatch(%q) method = %q, want %q", tt.text, call.method, tt.wantMethod)
		}
		for k, v := range tt.wantBody {
			if call.body[k] != v {
				t.Errorf("Dispatch(%q) body[%q] = %v, want %v", tt.text, k, call.body[k], v)
			}
		}
	}
}

func TestDefaultCommands_Local(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil)

	if res := d.Dispatch(context.Background(), "Hi there!"); res.Response != "Hello!" || !res.Success {
		t.Errorf("hello = %+v, want Hello!", res)
	}

	res := d.Dispatch(context.Background(), "what is the date")
	if ok, _ := regexp.MatchString(`^Today is \d{4}-\d{2}-\d{2}$`, res.Response); !ok || !res.Success {
		t.Errorf("date = %+v, want Today is YYYY-MM-DD", res)
	}

	res = d.Dispatch(context.Background(), "tell me your commands")
	lines := strings.Split(res.Response, "\n")
	if len(lines) != 12 {
		t.Fatalf("listing has %d lines, want 12:\n%s", len(lines), res.Response)
	}
	if lines[0] != "- hello|hi: Hello world!" {
		t.Errorf("listing[0] = %q", lines[0])
	}
	if lines[11] != "- list|lists|tell commands|command: List commands" {
		t.Errorf("listing[11] = %q", lines[11])
	}
}

func TestDefaultCommands_NoSpotify(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil)
	res := d.Dispatch(context.Background(), "play music anything")
	if res.Success {
		t.Fatal("Dispatch succeeded without a spotify skill")
	}
	if res.Response != dispatch.Apology {
		t.Errorf("Response = %q, want %q", res.Response, dispatch.Apology)
	}
	if res.Error != errNoSpotify.Error() {
		t.Errorf("Error = %q, want %q", res.Error, errNoSpotify.Error())
	}
}
