package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/session"
	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/provider/conversation"
)

// runPass processes one batch of caller audio and always returns the session
// from processing.
//
// Gateway calls run on a context detached from the session so a hang-up does
// not abort a request half way; their results are dropped once the session
// is gone. Playback runs on the session context and stops at hang-up.
func (b *Bridge) runPass(sess *session.Session, conn Conn, batch [][]byte) {
	defer b.passes.Done()
	defer sess.Finish()

	passID := uuid.NewString()
	start := time.Now()

	ctx, span := observe.StartSpan(context.WithoutCancel(sess.Context()), "bridge.pass",
		trace.WithAttributes(
			attribute.String("call_id", sess.CallID()),
			attribute.String("pass_id", passID),
			attribute.Int("frames", len(batch)),
		),
	)
	defer span.End()

	log := observe.Logger(ctx).With("call_id", sess.CallID(), "pass_id", passID)
	outcome := b.process(ctx, log, sess, conn, batch)

	elapsed := time.Since(start)
	b.metrics.RecordPass(ctx, outcome, elapsed.Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))
	log.Info("pass finished", "outcome", outcome, "duration", elapsed.Round(time.Millisecond))
}

func (b *Bridge) process(ctx context.Context, log *slog.Logger, sess *session.Session, conn Conn, batch [][]byte) string {
	pcm := bytes.Join(batch, nil)
	wav := audio.EncodeWAV(pcm, b.cfg.Format)
	log.Debug("transcribing", "bytes", len(pcm), "audio", b.cfg.Format.Duration(len(pcm)))

	var transcript string
	err := b.observeCall(ctx, b.stt.Name(), "stt", b.metrics.STTDuration, func(ctx context.Context) error {
		var err error
		transcript, err = b.stt.Transcribe(ctx, wav)
		return err
	})
	if err != nil {
		log.Warn("transcription failed", "err", err)
		return observe.OutcomeFailed
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		log.Debug("empty transcript")
		return observe.OutcomeEmpty
	}
	if !sess.Alive() {
		return observe.OutcomeAbandoned
	}
	log.Info("transcript", "text", transcript)

	var reply []byte
	err = b.observeCall(ctx, b.conv.Name(), "conversation", b.metrics.ConversationDuration, func(ctx context.Context) error {
		var err error
		reply, err = b.conv.Converse(ctx, conversation.Request{
			Question:  transcript,
			SessionID: sess.CallID(),
		})
		return err
	})
	if err != nil {
		log.Warn("conversation failed", "err", err)
		return observe.OutcomeFailed
	}
	if !sess.Alive() {
		return observe.OutcomeAbandoned
	}

	action := conversation.DecodeAction(reply)
	log.Info("reply received",
		"action", string(action.Kind),
		"needs_agent", action.NeedsAgent,
		"has_audio", action.AudioURL != "",
	)

	outcome := observe.OutcomeReplied
	if action.AudioURL != "" {
		if err := b.play(ctx, log, sess, conn, action.AudioURL); err != nil {
			log.Warn("reply playback failed", "err", err)
			outcome = observe.OutcomeFailed
		}
	}

	if action.Escalate() {
		b.metrics.Escalations.Add(ctx, 1)
		scheduled := sess.ScheduleClose(b.cfg.EscalationDelay, func() {
			b.endSession(sess, "escalated")
			if err := conn.Close("escalated to agent"); err != nil {
				slog.Debug("close after escalation", "call_id", sess.CallID(), "err", err)
			}
		})
		if scheduled {
			log.Info("escalating call", "delay", b.cfg.EscalationDelay)
		}
		outcome = observe.OutcomeEscalated
	}
	return outcome
}

// play downloads the reply audio and paces it to the caller. Frames are only
// sent while the session is alive.
func (b *Bridge) play(ctx context.Context, log *slog.Logger, sess *session.Session, conn Conn, url string) error {
	var body []byte
	err := b.observeCall(ctx, b.fetch.Name(), "fetch", b.metrics.FetchDuration, func(ctx context.Context) error {
		var err error
		body, err = b.fetch.Fetch(ctx, url)
		return err
	})
	if err != nil {
		return fmt.Errorf("bridge: fetch reply audio: %w", err)
	}
	pcm, err := audio.DecodeWAV(body)
	if err != nil {
		return fmt.Errorf("bridge: decode reply audio: %w", err)
	}
	if !sess.Alive() {
		return nil
	}

	streamID := sess.StreamID()
	sent, err := b.cfg.Pacer.Stream(sess.Context(), pcm, func(frame []byte) error {
		if !sess.Alive() {
			return session.ErrClosed
		}
		if err := conn.SendMedia(sess.Context(), streamID, frame); err != nil {
			return err
		}
		b.metrics.FramesSent.Add(ctx, 1)
		return nil
	})
	if err != nil && !sess.Alive() {
		log.Debug("playback stopped by hang-up", "sent", sent)
		return nil
	}
	if err != nil {
		return fmt.Errorf("bridge: send reply audio after %d frames: %w", sent, err)
	}
	log.Debug("reply played", "frames", sent, "audio", b.cfg.Format.Duration(len(pcm)))
	return nil
}

// observeCall runs one gateway round trip inside a span and records its
// latency and outcome.
func (b *Bridge) observeCall(ctx context.Context, provider, kind string, hist metric.Float64Histogram, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, kind+"."+provider,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	hist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("provider", provider)))

	status := "ok"
	if err != nil {
		status = "error"
		b.metrics.RecordProviderError(ctx, provider, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	b.metrics.RecordProviderRequest(ctx, provider, kind, status)
	return err
}
