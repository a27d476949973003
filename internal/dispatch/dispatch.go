// Package dispatch turns transcript text into a spoken response by matching it
// against a [command.Registry] and running the handler.
//
// Dispatch never fails: a missing command, a handler error, a handler panic
// and a declined skill request are all folded into a [Result] with
// Success == false and a response suitable for speaking.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/jarvis/internal/command"
	"github.com/MrWong99/jarvis/internal/observe"
)

// Fixed responses for the two failure outcomes.
const (
	NotUnderstood = "No matching command found"
	Apology       = "Sorry, I encountered an error processing your message."
)

// Result is the outcome of dispatching one piece of text.
type Result struct {
	Response string
	Success  bool

	// Error holds the failure detail for logs and API callers. It is never
	// spoken.
	Error string
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records dispatch counts and latency on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher runs commands from an immutable registry. It is safe for
// concurrent use; voice and API requests may dispatch at the same time.
type Dispatcher struct {
	registry *command.Registry
	metrics  *observe.Metrics
}

// New creates a Dispatcher over reg.
func New(reg *command.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: reg}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Registry returns the command table the dispatcher matches against.
func (d *Dispatcher) Registry() *command.Registry { return d.registry }

// Dispatch matches text and runs the winning handler.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) Result {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.dispatch")
	defer span.End()

	m, ok := d.registry.Find(command.Tokenize(text))
	if !ok {
		observe.Logger(ctx).Info("no matching command", "text", text)
		span.SetAttributes(attribute.Bool("dispatch.matched", false))
		d.metrics.RecordDispatch(ctx, "none", "not_found", time.Since(start))
		return Result{Response: NotUnderstood}
	}

	name := m.Command.String()
	span.SetAttributes(
		attribute.Bool("dispatch.matched", true),
		attribute.String("dispatch.command", name),
		attribute.Int("dispatch.args", len(m.Args)),
	)

	res := run(ctx, m)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
		observe.Logger(ctx).Warn("command failed", "command", name, "error", res.Error)
	} else {
		observe.Logger(ctx).Debug("command handled", "command", name, "args", m.Args)
	}
	d.metrics.RecordDispatch(ctx, name, observe.Status(res.Success), time.Since(start))
	return res
}

// run calls the handler, converting panics and failures into a Result.
func run(ctx context.Context, m command.Match) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Response: Apology, Error: fmt.Sprintf("handler panic: %v", r)}
		}
	}()

	out, err := m.Command.Handler(ctx, m.Args)
	if err != nil {
		return Result{Response: Apology, Error: err.Error()}
	}
	return normalize(out)
}

// normalize maps a handler's output onto a Result.
func normalize(out command.Output) Result {
	switch o := out.(type) {
	case nil:
		return Result{Success: true}
	case command.Text:
		return Result{Response: string(o), Success: true}
	case command.SkillResponse:
		if !o.Success {
			detail := o.ErrorMessage
			if detail == "" {
				detail = "skill reported failure"
			}
			return Result{Response: Apology, Error: detail}
		}
		return Result{Response: o.Response, Success: true}
	default:
		return Result{Response: Apology, Error: fmt.Sprintf("unsupported handler output %T", out)}
	}
}
