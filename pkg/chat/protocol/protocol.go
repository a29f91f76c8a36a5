// Package protocol defines the character-channel wire frames exchanged over a
// chat WebSocket connection. Every frame is a closed tagged variant carrying a
// "type" discriminator; payloads are validated at the transport boundary so the
// rest of the system only ever sees well-formed commands.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client frame types.
const (
	TypeUserMessage     = "user_message"
	TypeSwitchCharacter = "switch_character"
	TypeSwitchLanguage  = "switch_language"
)

// Server frame types.
const (
	TypeThinking           = "character_thinking"
	TypeStreamChunk        = "character_stream"
	TypeResponse           = "character_response"
	TypeAnimation          = "vrm_animation"
	TypeCulturalContext    = "cultural_context"
	TypeCharacterSwitched  = "character_switched"
	TypeLanguageSwitched   = "language_switched"
	TypePerformanceMetrics = "performance_metrics"
	TypeStreamWarning      = "stream_warning"
	TypeError              = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

type ClientUserMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientSwitchCharacter struct {
	Type        string `json:"type"`
	CharacterID string `json:"character_id"`
}

type ClientSwitchLanguage struct {
	Type     string `json:"type"`
	Language string `json:"language"`
}

// DecodeClientFrame parses an inbound text frame into one of the closed client
// variants. Shape errors (missing type, missing required fields) come back as
// *DecodeError; semantic validation (unknown character, empty message text) is
// the dispatcher's job so it can answer with a character-voiced error event.
func DecodeClientFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeUserMessage:
		var msg ClientUserMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_message frame", "")
		}
		msg.Type = typ
		return msg, nil
	case TypeSwitchCharacter:
		var msg ClientSwitchCharacter
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid switch_character frame", "")
		}
		if strings.TrimSpace(msg.CharacterID) == "" {
			return nil, badRequest("switch_character.character_id is required", "character_id")
		}
		msg.Type = typ
		return msg, nil
	case TypeSwitchLanguage:
		var msg ClientSwitchLanguage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid switch_language frame", "")
		}
		if strings.TrimSpace(msg.Language) == "" {
			return nil, badRequest("switch_language.language is required", "language")
		}
		msg.Type = typ
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

type ServerThinking struct {
	Type     string `json:"type"`
	Thinking bool   `json:"thinking"`
}

type ServerStreamChunk struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	IsComplete bool   `json:"is_complete"`
}

type ServerResponse struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Emotion  string `json:"emotion,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

type ServerAnimation struct {
	Type       string `json:"type"`
	Emotion    string `json:"emotion"`
	Animation  string `json:"animation"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type ServerCulturalContext struct {
	Type string `json:"type"`
	Note string `json:"note"`
}

type ServerCharacterSwitched struct {
	Type        string `json:"type"`
	CharacterID string `json:"character_id"`
	Language    string `json:"language"`
}

type ServerLanguageSwitched struct {
	Type     string `json:"type"`
	Language string `json:"language"`
}

type ServerPerformanceMetrics struct {
	Type      string `json:"type"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Slow      bool   `json:"slow"`
}

type ServerStreamWarning struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

type ServerError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
}

// DecodeServerFrame parses a server-emitted text frame into one of the closed
// server variants. Used by the client SDK read loop.
func DecodeServerFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode server frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("server frame missing type")
	}

	decode := func(v any) (any, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return v, nil
	}

	switch typ {
	case TypeThinking:
		v, err := decode(&ServerThinking{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerThinking), nil
	case TypeStreamChunk:
		v, err := decode(&ServerStreamChunk{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerStreamChunk), nil
	case TypeResponse:
		v, err := decode(&ServerResponse{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerResponse), nil
	case TypeAnimation:
		v, err := decode(&ServerAnimation{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerAnimation), nil
	case TypeCulturalContext:
		v, err := decode(&ServerCulturalContext{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerCulturalContext), nil
	case TypeCharacterSwitched:
		v, err := decode(&ServerCharacterSwitched{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerCharacterSwitched), nil
	case TypeLanguageSwitched:
		v, err := decode(&ServerLanguageSwitched{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerLanguageSwitched), nil
	case TypePerformanceMetrics:
		v, err := decode(&ServerPerformanceMetrics{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerPerformanceMetrics), nil
	case TypeStreamWarning:
		v, err := decode(&ServerStreamWarning{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerStreamWarning), nil
	case TypeError:
		v, err := decode(&ServerError{})
		if err != nil {
			return nil, err
		}
		return *v.(*ServerError), nil
	default:
		return nil, fmt.Errorf("unsupported server frame type %q", typ)
	}
}
