package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hanashi-live/hanashi/pkg/chat/generate"
)

// Emitter receives the three event classes the pipeline interleaves: content
// chunks, side-channel cues, and liveness signals.
type Emitter interface {
	EmitChunk(text string, complete bool) error
	EmitAnimation(cue generate.AnimationCue) error
	EmitNote(note generate.Note) error
	EmitThinking(thinking bool) error
}

// Pipeline relays a fragment stream to an Emitter.
//
// Contract: one chunk per fragment, in production order, side-channel events
// strictly after their fragment's chunk; a keep-alive "thinking" signal
// whenever no emission happened within KeepAlive; a single empty chunk with
// complete=true after exhaustion. On a mid-stream producer error the pipeline
// aborts without the completion marker and the caller handles fallback.
type Pipeline struct {
	KeepAlive time.Duration
}

type pulled struct {
	frag generate.Fragment
	err  error
}

// Relay drives the stream to completion and returns the concatenation of all
// text deltas for persistence.
func (p Pipeline) Relay(ctx context.Context, stream generate.FragmentStream, em Emitter) (string, error) {
	keepAlive := p.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 2 * time.Second
	}

	// Fragment waits happen off the emit path so the keep-alive timer keeps
	// firing while the producer is slow.
	ch := make(chan pulled)
	go func() {
		defer close(ch)
		for {
			frag, err := stream.Next(ctx)
			select {
			case ch <- pulled{frag: frag, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(keepAlive)
	defer timer.Stop()
	resetKeepAlive := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(keepAlive)
	}

	var full strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			if err := em.EmitThinking(true); err != nil {
				return "", err
			}
			timer.Reset(keepAlive)
		case item, ok := <-ch:
			if !ok {
				return "", fmt.Errorf("fragment stream ended without EOF: %w", generate.ErrGeneration)
			}
			if errors.Is(item.err, io.EOF) {
				if err := em.EmitChunk("", true); err != nil {
					return "", err
				}
				return full.String(), nil
			}
			if item.err != nil {
				return "", item.err
			}
			if err := em.EmitChunk(item.frag.Text, false); err != nil {
				return "", err
			}
			full.WriteString(item.frag.Text)
			if item.frag.Animation != nil {
				if err := em.EmitAnimation(*item.frag.Animation); err != nil {
					return "", err
				}
			}
			if item.frag.Note != nil {
				if err := em.EmitNote(*item.frag.Note); err != nil {
					return "", err
				}
			}
			resetKeepAlive()
		}
	}
}
