package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/jarvis/internal/command"
	"github.com/MrWong99/jarvis/internal/observe"
)

func newRegistry(t *testing.T) *command.Registry {
	t.Helper()
	reg, err := command.NewBuilder().
		Register([]command.Term{command.AnyOf("hello", "hi")},
			func(context.Context, []string) (command.Output, error) { return command.Text("Hello!"), nil },
			"greet", false).
		Register([]command.Term{command.Required("play"), command.Required("music")},
			func(_ context.Context, args []string) (command.Output, error) {
				return command.SkillResponse{Response: "Playing " + strings.Join(args, " "), Success: true}, nil
			},
			"play a song", true).
		Register([]command.Term{command.Required("next")},
			func(context.Context, []string) (command.Output, error) {
				return command.SkillResponse{Success: false, ErrorMessage: "no active device"}, nil
			},
			"next", false).
		Register([]command.Term{command.Required("broken")},
			func(context.Context, []string) (command.Output, error) { return nil, errors.New("backend down") },
			"fails", false).
		Register([]command.Term{command.Required("panic")},
			func(context.Context, []string) (command.Output, error) { panic("boom") },
			"panics", false).
		Register([]command.Term{command.Required("quiet")},
			func(context.Context, []string) (command.Output, error) { return nil, nil },
			"returns nothing", false).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return reg
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	d := New(newRegistry(t))

	tests := []struct {
		name      string
		text      string
		want      Result
		wantError string
	}{
		{name: "plain text", text: "Hi there", want: Result{Response: "Hello!", Success: true}},
		{name: "punctuation", text: "Hello, Jarvis!", want: Result{Response: "Hello!", Success: true}},
		{
			name: "skill response with args",
			text: "play music Bohemian Rhapsody",
			want: Result{Response: "Playing Bohemian Rhapsody", Success: true},
		},
		{name: "no match", text: "what is the weather", want: Result{Response: NotUnderstood}},
		{name: "empty text", text: "", want: Result{Response: NotUnderstood}},
		{name: "skill declined", text: "next", want: Result{Response: Apology}, wantError: "no active device"},
		{name: "handler error", text: "broken", want: Result{Response: Apology}, wantError: "backend down"},
		{name: "handler panic", text: "panic", want: Result{Response: Apology}, wantError: "boom"},
		{name: "nil output", text: "quiet", want: Result{Success: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := d.Dispatch(context.Background(), tc.text)
			if got.Response != tc.want.Response || got.Success != tc.want.Success {
				t.Errorf("Dispatch(%q) = {%q, %v}, want {%q, %v}",
					tc.text, got.Response, got.Success, tc.want.Response, tc.want.Success)
			}
			if !strings.Contains(got.Error, tc.wantError) {
				t.Errorf("Error = %q, want it to contain %q", got.Error, tc.wantError)
			}
			if tc.wantError == "" && got.Error != "" {
				t.Errorf("Error = %q, want empty", got.Error)
			}
		})
	}
}

func TestDispatch_PassesContext(t *testing.T) {
	t.Parallel()
	type key struct{}
	var got any
	reg, err := command.NewBuilder().
		Register([]command.Term{command.Required("ping")},
			func(ctx context.Context, _ []string) (command.Output, error) {
				got = ctx.Value(key{})
				return command.Text("pong"), nil
			}, "ping", false).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.WithValue(context.Background(), key{}, "utt-1")
	if res := New(reg).Dispatch(ctx, "ping"); res.Response != "pong" {
		t.Fatalf("Response = %q, want pong", res.Response)
	}
	if got != "utt-1" {
		t.Errorf("handler saw ctx value %v, want utt-1", got)
	}
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	d := New(newRegistry(t), WithMetrics(m))
	ctx := context.Background()
	d.Dispatch(ctx, "hello")
	d.Dispatch(ctx, "gibberish")
	d.Dispatch(ctx, "broken")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "jarvis.dispatches" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("jarvis.dispatches is not a sum")
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[v.AsString()] += dp.Value
			}
		}
	}
	want := map[string]int64{"ok": 1, "not_found": 1, "error": 1}
	for status, n := range want {
		if counts[status] != n {
			t.Errorf("dispatches{status=%s} = %d, want %d", status, counts[status], n)
		}
	}
}
