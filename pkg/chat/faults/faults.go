// Package faults maps arbitrary failures onto the closed error taxonomy and
// produces the deterministic, character-voiced text shown to users. Raw error
// text never reaches the client; every user-visible failure is a complete
// message in the active character's voice.
package faults

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/generate"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
)

type Kind string

const (
	KindInputInvalid        Kind = "input_invalid"
	KindConnectionUnhealthy Kind = "connection_unhealthy"
	KindGenerationFailed    Kind = "generation_failed"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindUnknown             Kind = "unknown"
)

var (
	// ErrInvalidInput marks user text rejected before any generator call or
	// persistence write.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConnectionUnhealthy marks a failed liveness probe.
	ErrConnectionUnhealthy = errors.New("connection unhealthy")
)

// Categorize maps any failure to the closed taxonomy. Unrecognized errors are
// KindUnknown, which always produces a generic character-voiced apology.
func Categorize(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidInput):
		return KindInputInvalid
	case errors.Is(err, ErrConnectionUnhealthy):
		return KindConnectionUnhealthy
	case errors.Is(err, generate.ErrGeneration):
		return KindGenerationFailed
	case errors.Is(err, store.ErrUnavailable):
		return KindStorageUnavailable
	default:
		return KindUnknown
	}
}

// ValidateUserInput rejects empty/whitespace-only text and text longer than
// maxRunes. Runs before generation and before any log write.
func ValidateUserInput(text string, maxRunes int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message text is empty", ErrInvalidInput)
	}
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		return fmt.Errorf("%w: message text exceeds %d characters", ErrInvalidInput, maxRunes)
	}
	return nil
}

// CharacterErrorMessage returns the exact user-facing text for a (character,
// kind) pair. No randomness: tests assert these strings verbatim.
func CharacterErrorMessage(id character.ID, kind Kind) string {
	voices, ok := errorVoices[id]
	if !ok {
		voices = errorVoices[character.Default]
	}
	if msg, ok := voices[kind]; ok {
		return msg
	}
	return voices[KindUnknown]
}

var errorVoices = map[character.ID]map[Kind]string{
	character.Haruka: {
		KindInputInvalid:        "Eh? I didn't catch that — could you type a message for me? (◕‿◕)",
		KindConnectionUnhealthy: "Gomen! The connection is acting up... give me a second and try again!",
		KindGenerationFailed:    "Ah, my thoughts got all tangled up! Could you ask me that once more?",
		KindStorageUnavailable:  "Hmm, I couldn't save that just now. Let's try again in a moment, ne?",
		KindUnknown:             "Sumimasen! Something went wrong on my side. Let's try that again!",
	},
	character.Kenji: {
		KindInputInvalid:        "I need an actual message to work with. Give it another go.",
		KindConnectionUnhealthy: "Looks like the line is unstable. Hold on and resend that.",
		KindGenerationFailed:    "I lost my train of thought there. Ask me again.",
		KindStorageUnavailable:  "I couldn't file that away just now. Try once more shortly.",
		KindUnknown:             "Something broke on my end. Let's run that back.",
	},
	character.Yuki: {
		KindInputInvalid:        "Um... the message was empty. Could you... write something?",
		KindConnectionUnhealthy: "S-sorry... the connection slipped away. Maybe try again...?",
		KindGenerationFailed:    "I... lost the words I wanted to say. One more time, please?",
		KindStorageUnavailable:  "I couldn't keep a note of that... could you try again soon?",
		KindUnknown:             "Something went wrong... I'm sorry. Please try again.",
	},
}

// Fallback is a locally synthesized reply used when generation fails after a
// message was already accepted, so the user is never left with silence. It is
// distinct from the error message for the same kind and is flagged fallback
// downstream so clients can distinguish it from a genuine reply.
type Fallback struct {
	Text      string
	Emotion   string
	Animation string
}

func FallbackResponse(id character.ID, original string) Fallback {
	topic := strings.TrimSpace(original)
	if utf8.RuneCountInString(topic) > 60 {
		runes := []rune(topic)
		topic = string(runes[:60]) + "…"
	}
	switch id {
	case character.Kenji:
		return Fallback{
			Text:      fmt.Sprintf("I couldn't put together a proper answer about %q just now — mind asking me again?", topic),
			Emotion:   "apologetic",
			Animation: "bow_light",
		}
	case character.Yuki:
		return Fallback{
			Text:      fmt.Sprintf("Um... I wanted to answer about %q, but the words wouldn't come... could you ask once more?", topic),
			Emotion:   "flustered",
			Animation: "fidget",
		}
	default:
		return Fallback{
			Text:      fmt.Sprintf("Gomen ne! I really wanted to answer about %q but I got mixed up — ask me one more time?", topic),
			Emotion:   "apologetic",
			Animation: "bow_light",
		}
	}
}
