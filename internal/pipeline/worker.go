package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/internal/dispatch"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/transcript"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/wake"
)

// Error kinds recorded on the pipeline error counter.
const (
	kindDevice      = "device"
	kindDetection   = "detection"
	kindRecognition = "recognition"
	kindSynthesis   = "synthesis"
	kindPanic       = "panic"
)

// turn carries one wake-to-reply cycle between states.
type turn struct {
	utt         Utterance
	deadline    time.Time
	ctx         context.Context
	deviceAbort bool
	pcm         []byte
	result      dispatch.Result
}

func (c *Controller) run(ctx context.Context) {
	defer c.exit()

	slog.Info("pipeline started", "wake_threshold", c.WakeThreshold(), "capture_timeout", c.CaptureTimeout())
	state := StateListening
	var t turn
	for ctx.Err() == nil {
		c.setState(state)
		state = c.step(ctx, state, &t)
	}
}

// exit releases everything the worker owns.
func (c *Controller) exit() {
	c.setState(StateShuttingDown)
	if c.held {
		if err := c.deps.Source.Close(); err != nil {
			slog.Warn("pipeline: close audio source", "error", err)
		}
		c.held, c.streaming = false, false
	}
	c.events.close()
	close(c.done)
	slog.Info("pipeline stopped")
}

// step runs one state body, recovering any panic into the error phrase.
func (c *Controller) step(ctx context.Context, state State, t *turn) (next State) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		slog.Error("pipeline: panic recovered", "state", state.String(), "panic", r, "stack", string(debug.Stack()))
		c.metrics.RecordPipelineError(ctx, kindPanic)
		*t = turn{}
		if ctx.Err() == nil {
			c.speak(ctx, c.cfg.ErrorMessage)
		}
		next = StateListening
	}()

	switch state {
	case StateListening:
		return c.listen(ctx, t)
	case StateCapturing:
		return c.capture(ctx, t)
	case StateDispatching:
		return c.dispatch(t)
	case StateSpeaking:
		return c.respond(t)
	default:
		return StateListening
	}
}

// startSource acquires and starts the device if it is not streaming.
func (c *Controller) startSource(ctx context.Context) error {
	if c.streaming {
		return nil
	}
	if err := c.deps.Source.Start(ctx); err != nil {
		return err
	}
	c.held, c.streaming = true, true
	return nil
}

// stopSource halts streaming, dropping input while the assistant talks.
func (c *Controller) stopSource() {
	if !c.streaming {
		return
	}
	if err := c.deps.Source.Stop(); err != nil {
		slog.Warn("pipeline: stop audio source", "error", err)
	}
	c.streaming = false
}

// releaseSource closes the device after a failure.
func (c *Controller) releaseSource() {
	if c.held {
		if err := c.deps.Source.Close(); err != nil {
			slog.Warn("pipeline: close audio source", "error", err)
		}
	}
	c.held, c.streaming = false, false
}

func (c *Controller) deviceFailure(ctx context.Context, op string, err error) {
	slog.Error("pipeline: audio device failure", "op", op, "error", err)
	c.metrics.RecordPipelineError(ctx, kindDevice)
}

// backoff sleeps for the device retry interval unless ctx ends first.
func (c *Controller) backoff(ctx context.Context) {
	t := time.NewTimer(c.deviceRetry)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Controller) listen(ctx context.Context, t *turn) State {
	if !c.booted {
		c.booted = true
		c.speak(ctx, c.cfg.BootMessage)
	}

	if err := c.startSource(ctx); err != nil {
		if ctx.Err() == nil {
			c.deviceFailure(ctx, "start", err)
			c.releaseSource()
			c.backoff(ctx)
		}
		return StateListening
	}

	frame, err := c.deps.Source.ReadFrame(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.deviceFailure(ctx, "read", err)
			c.releaseSource()
			c.backoff(ctx)
		}
		return StateListening
	}

	scores, err := c.deps.Detector.Score(frame.Data)
	if err != nil {
		slog.Warn("pipeline: wake detection failed, skipping frame", "error", err)
		c.metrics.DetectionErrors.Add(ctx, 1)
		c.metrics.RecordPipelineError(ctx, kindDetection)
		return StateListening
	}
	label, score, ok := wake.Best(scores)
	if !ok || score < c.WakeThreshold() {
		return StateListening
	}

	slog.Info("wake word detected", "label", label, "score", score)
	c.metrics.RecordWakeDetection(ctx, label)
	c.events.publish(WakeEvent{Detected: true, WakeWord: label, Score: score, Timestamp: frame.Timestamp})

	// The microphone is paused so the acknowledgement is not captured.
	c.stopSource()
	c.speak(ctx, c.Acknowledgement())

	now := time.Now()
	*t = turn{
		utt:      Utterance{ID: uuid.NewString(), Start: now},
		deadline: now.Add(c.CaptureTimeout()),
	}
	t.ctx = observe.WithUtterance(ctx, t.utt.ID)
	return StateCapturing
}

func (c *Controller) capture(ctx context.Context, t *turn) State {
	uctx := t.ctx
	log := observe.Logger(uctx)
	c.metrics.ActiveCaptures.Add(ctx, 1)
	defer c.metrics.ActiveCaptures.Add(ctx, -1)

	// End never passes the deadline, even when a flush runs past it.
	finalize := func(text string, reason EndReason) {
		t.utt.Text = text
		t.utt.End = time.Now()
		if t.utt.End.After(t.deadline) {
			t.utt.End = t.deadline
		}
		t.utt.Reason = reason
	}

	c.collect(ctx, t, log, finalize)

	c.deps.Detector.Reset()
	c.stopSource()
	if ctx.Err() != nil {
		return StateListening
	}

	c.setLast(t.utt)
	c.metrics.RecordUtterance(ctx, string(t.utt.Reason), t.utt.Duration())
	log.Info("utterance captured", "text", t.utt.Text, "reason", string(t.utt.Reason), "duration", t.utt.Duration())
	c.record(log, t)
	return StateDispatching
}

// collect feeds frames to a recognition session until the endpoint, the
// deadline or a failure.
func (c *Controller) collect(ctx context.Context, t *turn, log *slog.Logger, finalize func(string, EndReason)) {
	format := c.deps.Source.Format()
	sess, err := c.deps.Recognizer.StartSession(t.ctx, stt.StreamConfig{
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Language:   c.cfg.Language,
		Keywords:   c.cfg.Keywords,
	})
	if err != nil {
		log.Error("pipeline: start recognition session", "error", err)
		c.metrics.RecordPipelineError(ctx, kindRecognition)
		finalize("", EndError)
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("pipeline: close recognition session", "error", err)
		}
	}()

	if err := c.startSource(ctx); err != nil {
		if ctx.Err() == nil {
			c.deviceFailure(ctx, "start", err)
			c.releaseSource()
		}
		t.deviceAbort = true
		finalize("", EndError)
		return
	}

	rctx, cancel := context.WithDeadline(ctx, t.deadline)
	defer cancel()

	var parts []string
	text := func(extra ...string) string { return stt.JoinText(append(parts, extra...)...) }
	for {
		if !time.Now().Before(t.deadline) {
			finalize(c.flushOnTimeout(sess, log, text), EndTimeout)
			return
		}
		frame, err := c.deps.Source.ReadFrame(rctx)
		if ctx.Err() != nil {
			finalize(text(), EndError)
			return
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			c.deviceFailure(ctx, "read", err)
			c.releaseSource()
			t.deviceAbort = true
			finalize(text(), EndError)
			return
		}
		if err != nil || !time.Now().Before(t.deadline) {
			// The deadline passed during the read; the frame is dropped.
			finalize(c.flushOnTimeout(sess, log, text), EndTimeout)
			return
		}

		if c.recorder != nil {
			t.pcm = append(t.pcm, frame.Data...)
		}
		partial, endpoint, err := sess.Process(frame.Data)
		if err != nil {
			log.Warn("pipeline: recognition failed", "error", err)
			c.metrics.RecordPipelineError(ctx, kindRecognition)
			finalize(text(partial), EndError)
			return
		}
		parts = append(parts, partial)
		if endpoint {
			rest, err := sess.Flush()
			if err != nil {
				log.Warn("pipeline: recognition flush failed", "error", err)
				c.metrics.RecordPipelineError(ctx, kindRecognition)
				finalize(text(), EndError)
				return
			}
			finalize(text(rest), EndEndpoint)
			return
		}
	}
}

// flushOnTimeout finalizes buffered audio when the deadline cuts a capture
// short. A flush failure keeps the text heard so far.
func (c *Controller) flushOnTimeout(sess stt.Session, log *slog.Logger, text func(...string) string) string {
	rest, err := sess.Flush()
	if err != nil {
		log.Warn("pipeline: recognition flush failed", "error", err)
		return text()
	}
	return text(rest)
}

func (c *Controller) record(log *slog.Logger, t *turn) {
	if c.recorder == nil || len(t.pcm) == 0 {
		return
	}
	path, err := c.recorder.Save(t.utt.ID, t.pcm, c.deps.Source.Format())
	t.pcm = nil
	if err != nil {
		log.Warn("pipeline: save recording", "error", err)
		return
	}
	log.Debug("recording saved", "path", path)
}

func (c *Controller) dispatch(t *turn) State {
	if t.deviceAbort && t.utt.Text == "" {
		t.result = dispatch.Result{Error: "audio device failed during capture"}
		return StateSpeaking
	}

	text := t.utt.Text
	if c.corrector != nil {
		var fixes []transcript.Correction
		text, fixes = c.corrector.Correct(text)
		for _, f := range fixes {
			observe.Logger(t.ctx).Debug("transcript corrected", "from", f.Original, "to", f.Corrected, "confidence", f.Confidence)
		}
	}
	t.result = c.deps.Dispatcher.Dispatch(t.ctx, text)
	return StateSpeaking
}

func (c *Controller) respond(t *turn) State {
	reply := t.result.Response
	if reply == "" && !t.result.Success {
		reply = c.cfg.ErrorMessage
	}
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.speak(ctx, reply)
	*t = turn{}
	return StateListening
}

// speak says text, containing both errors and panics of the speaker.
func (c *Controller) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("speaker panic: %v", r)
			}
		}()
		return c.deps.Speaker.Say(ctx, text)
	}()
	if err != nil && ctx.Err() == nil {
		observe.Logger(ctx).Warn("pipeline: speech failed", "text", text, "error", err)
		c.metrics.RecordPipelineError(ctx, kindSynthesis)
	}
}
