// Package generate defines the boundary to the response-generation
// collaborator: given bounded conversation context, a generator produces a
// lazy, finite sequence of fragments. The streaming pipeline relays fragments
// in production order; generators never reorder or drop output.
package generate

import (
	"context"
	"errors"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
)

// ErrGeneration marks producer failures (raised mid-stream or malformed
// output). The command boundary recovers these with a fallback response.
var ErrGeneration = errors.New("generation failed")

// AnimationCue is a side-channel avatar cue attached to a fragment.
type AnimationCue struct {
	Emotion    string
	Animation  string
	DurationMS int64
}

// Note is a side-channel cultural/contextual annotation.
type Note struct {
	Text string
}

// Fragment is one unit of incrementally produced response content. Any of the
// fields may be zero; a fragment with empty text can still carry a cue.
type Fragment struct {
	Text      string
	Animation *AnimationCue
	Note      *Note
}

// Request carries everything a generator needs for one turn. Context is
// chronological, oldest first.
type Request struct {
	CharacterID character.ID
	Language    character.Language
	Context     []store.ContextEntry
	UserText    string
}

// FragmentStream yields fragments in production order. Next returns io.EOF
// after the final fragment; any other error aborts the stream.
type FragmentStream interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, req Request) (FragmentStream, error)
}
