// Package scripted provides deterministic generators: a fixed fragment script
// for tests and a canned per-character responder used when no real backend is
// configured and by the client SDK's degraded mode.
package scripted

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/generate"
)

// Script replays a fixed fragment sequence. FailAfter > 0 makes the stream
// fail with FailErr (or generate.ErrGeneration) after that many fragments,
// which is how tests exercise mid-stream producer failures.
type Script struct {
	Fragments []generate.Fragment
	FailAfter int
	FailErr   error
}

func (s Script) Generate(ctx context.Context, req generate.Request) (generate.FragmentStream, error) {
	failErr := s.FailErr
	if failErr == nil {
		failErr = generate.ErrGeneration
	}
	return &scriptStream{fragments: s.Fragments, failAfter: s.FailAfter, failErr: failErr}, nil
}

type scriptStream struct {
	mu        sync.Mutex
	fragments []generate.Fragment
	pos       int
	failAfter int
	failErr   error
}

func (s *scriptStream) Next(ctx context.Context) (generate.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return generate.Fragment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && s.pos >= s.failAfter {
		return generate.Fragment{}, fmt.Errorf("scripted failure: %w", s.failErr)
	}
	if s.pos >= len(s.fragments) {
		return generate.Fragment{}, io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *scriptStream) Close() error { return nil }

// Responder synthesizes a short deterministic reply in the requested
// character's voice, split into word-level fragments with an opening animation
// cue and a closing cultural note. The output exercises the full event
// vocabulary, so a client cannot tell the degraded path apart structurally.
type Responder struct{}

func (Responder) Generate(ctx context.Context, req generate.Request) (generate.FragmentStream, error) {
	line := cannedLine(req.CharacterID, req.Language, req.UserText)
	words := strings.Fields(line)
	fragments := make([]generate.Fragment, 0, len(words)+1)
	for i, w := range words {
		frag := generate.Fragment{Text: w}
		if i < len(words)-1 {
			frag.Text += " "
		}
		if i == 0 {
			frag.Animation = &generate.AnimationCue{
				Emotion:    character.IdleEmotion(req.CharacterID),
				Animation:  "talk",
				DurationMS: 1200,
			}
		}
		fragments = append(fragments, frag)
	}
	fragments = append(fragments, generate.Fragment{
		Note: &generate.Note{Text: cannedNote(req.Language)},
	})
	return &scriptStream{fragments: fragments}, nil
}

func cannedLine(id character.ID, lang character.Language, userText string) string {
	topic := strings.TrimSpace(userText)
	if len(topic) > 40 {
		topic = topic[:40]
	}
	switch id {
	case character.Kenji:
		return fmt.Sprintf("Good question. Let's talk about %q — I have a few thoughts on that.", topic)
	case character.Yuki:
		if lang == character.LangJapanese {
			return fmt.Sprintf("そうですね… %q について、少しだけお話ししますね。", topic)
		}
		return fmt.Sprintf("Um... about %q... I think I can share a little.", topic)
	default:
		if lang == character.LangEnglish {
			return fmt.Sprintf("Ooh, %q! That's a fun one — here's what I think!", topic)
		}
		return fmt.Sprintf("Ooh, %q! Sore wa ii shitsumon da ne — here's what I think!", topic)
	}
}

func cannedNote(lang character.Language) string {
	if lang == character.LangEnglish {
		return "Tip: short, concrete questions get the best answers."
	}
	return "「そうですね」 is a natural way to buy a moment before answering."
}
