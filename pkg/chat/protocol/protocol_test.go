package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientFrame_UserMessage(t *testing.T) {
	decoded, err := DecodeClientFrame([]byte(`{"type":"user_message","text":"konnichiwa"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(ClientUserMessage)
	if !ok {
		t.Fatalf("decoded %T, want ClientUserMessage", decoded)
	}
	if msg.Text != "konnichiwa" {
		t.Fatalf("text=%q", msg.Text)
	}
}

func TestDecodeClientFrame_SwitchCharacter(t *testing.T) {
	decoded, err := DecodeClientFrame([]byte(`{"type":"switch_character","character_id":"yuki"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := decoded.(ClientSwitchCharacter)
	if msg.CharacterID != "yuki" {
		t.Fatalf("character_id=%q", msg.CharacterID)
	}
}

func TestDecodeClientFrame_Errors(t *testing.T) {
	cases := []struct {
		name  string
		data  string
		param string
	}{
		{"invalid json", `{`, ""},
		{"missing type", `{"text":"hi"}`, "type"},
		{"unknown type", `{"type":"dance"}`, "type"},
		{"switch_character missing id", `{"type":"switch_character"}`, "character_id"},
		{"switch_language missing language", `{"type":"switch_language"}`, "language"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientFrame([]byte(tc.data))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("got %v, want *DecodeError", err)
			}
			if decodeErr.Param != tc.param {
				t.Fatalf("param=%q, want %q", decodeErr.Param, tc.param)
			}
		})
	}
}

func TestDecodeClientFrame_EmptyTextIsShapeValid(t *testing.T) {
	// Empty message text is a semantic error answered in character voice, not
	// a transport decode error.
	decoded, err := DecodeClientFrame([]byte(`{"type":"user_message","text":""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded.(ClientUserMessage); !ok {
		t.Fatalf("decoded %T, want ClientUserMessage", decoded)
	}
}

func TestDecodeServerFrame_AllTypes(t *testing.T) {
	frames := []any{
		ServerThinking{Type: TypeThinking, Thinking: true},
		ServerStreamChunk{Type: TypeStreamChunk, Text: "hel"},
		ServerStreamChunk{Type: TypeStreamChunk, IsComplete: true},
		ServerResponse{Type: TypeResponse, Text: "done", Emotion: "cheerful"},
		ServerAnimation{Type: TypeAnimation, Emotion: "cheerful", Animation: "wave", DurationMS: 900},
		ServerCulturalContext{Type: TypeCulturalContext, Note: "keigo note"},
		ServerCharacterSwitched{Type: TypeCharacterSwitched, CharacterID: "kenji", Language: "english"},
		ServerLanguageSwitched{Type: TypeLanguageSwitched, Language: "japanese"},
		ServerPerformanceMetrics{Type: TypePerformanceMetrics, ElapsedMS: 420},
		ServerStreamWarning{Type: TypeStreamWarning, Code: "stream_slow", Message: "hold on"},
		ServerError{Type: TypeError, Message: "nope", ErrorType: "input_invalid"},
	}
	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			t.Fatalf("marshal %T: %v", frame, err)
		}
		decoded, err := DecodeServerFrame(data)
		if err != nil {
			t.Fatalf("decode %T: %v", frame, err)
		}
		if decoded != frame {
			t.Fatalf("round trip %T: got %#v, want %#v", frame, decoded, frame)
		}
	}
}

func TestDecodeServerFrame_UnknownType(t *testing.T) {
	if _, err := DecodeServerFrame([]byte(`{"type":"telemetry_v2"}`)); err == nil {
		t.Fatalf("expected error for unknown server frame type")
	}
}
