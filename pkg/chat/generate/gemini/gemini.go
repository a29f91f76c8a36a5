// Package gemini implements the response generator on Gemini via the
// google.golang.org/genai SDK, relaying streamed candidates as fragments.
package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/generate"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
)

const defaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey string
	Model  string
}

type Generator struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Generator{client: client, model: model}, nil
}

func (g *Generator) Generate(ctx context.Context, req generate.Request) (generate.FragmentStream, error) {
	contents := make([]*genai.Content, 0, len(req.Context)+1)
	for _, entry := range req.Context {
		var role genai.Role = genai.RoleUser
		if entry.Role == store.SenderCharacter {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(entry.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))

	temp := float32(0.8)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req.CharacterID, req.Language), genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   2048,
	}

	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg))
	return &geminiStream{
		next:    next,
		stop:    stop,
		emotion: character.IdleEmotion(req.CharacterID),
	}, nil
}

type geminiStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	emotion string
	started bool
}

func (s *geminiStream) Next(ctx context.Context) (generate.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return generate.Fragment{}, err
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			return generate.Fragment{}, io.EOF
		}
		if err != nil {
			return generate.Fragment{}, fmt.Errorf("%w: %v", generate.ErrGeneration, err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		frag := generate.Fragment{Text: text}
		if !s.started {
			s.started = true
			frag.Animation = &generate.AnimationCue{Emotion: s.emotion, Animation: "talk", DurationMS: 1500}
		}
		return frag, nil
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}

func systemPrompt(id character.ID, lang character.Language) string {
	var voice string
	switch id {
	case character.Kenji:
		voice = "You are Kenji, a calm and direct conversation partner."
	case character.Yuki:
		voice = "You are Yuki, a soft-spoken and shy conversation partner."
	default:
		voice = "You are Haruka, a cheerful and encouraging conversation partner."
	}
	var mode string
	switch lang {
	case character.LangJapanese:
		mode = "Reply in natural Japanese."
	case character.LangEnglish:
		mode = "Reply in natural English."
	default:
		mode = "Reply mixing simple Japanese phrases with English explanations."
	}
	return voice + " Keep replies concise and conversational. " + mode
}
