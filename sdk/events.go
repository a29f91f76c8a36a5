// Package sdk is the Go client for the chat gateway. A Client owns the
// connection lifecycle (reconnect with backoff, a degraded offline mode, an
// outbound action queue) and fans decoded server frames out to typed event
// handlers.
package sdk

import "github.com/hanashi-live/hanashi/pkg/chat/protocol"

// Event is the closed set of events a Client delivers to handlers.
type Event interface {
	eventName() string
}

// Event names used for handler registration.
const (
	EventThinking           = "character_thinking"
	EventStreamChunk        = "character_stream"
	EventResponse           = "character_response"
	EventAnimation          = "vrm_animation"
	EventCulturalContext    = "cultural_context"
	EventCharacterSwitched  = "character_switched"
	EventLanguageSwitched   = "language_switched"
	EventPerformanceMetrics = "performance_metrics"
	EventStreamWarning      = "stream_warning"
	EventError              = "error"
	EventConnectionStatus   = "connection_status"
)

type ThinkingEvent struct{ Frame protocol.ServerThinking }

func (ThinkingEvent) eventName() string { return EventThinking }

type StreamChunkEvent struct{ Frame protocol.ServerStreamChunk }

func (StreamChunkEvent) eventName() string { return EventStreamChunk }

type ResponseEvent struct{ Frame protocol.ServerResponse }

func (ResponseEvent) eventName() string { return EventResponse }

type AnimationEvent struct{ Frame protocol.ServerAnimation }

func (AnimationEvent) eventName() string { return EventAnimation }

type CulturalContextEvent struct{ Frame protocol.ServerCulturalContext }

func (CulturalContextEvent) eventName() string { return EventCulturalContext }

type CharacterSwitchedEvent struct{ Frame protocol.ServerCharacterSwitched }

func (CharacterSwitchedEvent) eventName() string { return EventCharacterSwitched }

type LanguageSwitchedEvent struct{ Frame protocol.ServerLanguageSwitched }

func (LanguageSwitchedEvent) eventName() string { return EventLanguageSwitched }

type PerformanceMetricsEvent struct{ Frame protocol.ServerPerformanceMetrics }

func (PerformanceMetricsEvent) eventName() string { return EventPerformanceMetrics }

type StreamWarningEvent struct{ Frame protocol.ServerStreamWarning }

func (StreamWarningEvent) eventName() string { return EventStreamWarning }

type ErrorEvent struct{ Frame protocol.ServerError }

func (ErrorEvent) eventName() string { return EventError }

// ConnectionState is the client's connection lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
)

// ConnectionStatusEvent is synthesized by the Client itself on every state
// transition; it never arrives on the wire.
type ConnectionStatusEvent struct {
	State   ConnectionState
	Attempt int
	Err     error
}

func (ConnectionStatusEvent) eventName() string { return EventConnectionStatus }

// eventFromFrame wraps a decoded server frame in its Event variant. Unknown
// frames return nil so newer servers never break older clients.
func eventFromFrame(frame any) Event {
	switch f := frame.(type) {
	case protocol.ServerThinking:
		return ThinkingEvent{Frame: f}
	case protocol.ServerStreamChunk:
		return StreamChunkEvent{Frame: f}
	case protocol.ServerResponse:
		return ResponseEvent{Frame: f}
	case protocol.ServerAnimation:
		return AnimationEvent{Frame: f}
	case protocol.ServerCulturalContext:
		return CulturalContextEvent{Frame: f}
	case protocol.ServerCharacterSwitched:
		return CharacterSwitchedEvent{Frame: f}
	case protocol.ServerLanguageSwitched:
		return LanguageSwitchedEvent{Frame: f}
	case protocol.ServerPerformanceMetrics:
		return PerformanceMetricsEvent{Frame: f}
	case protocol.ServerStreamWarning:
		return StreamWarningEvent{Frame: f}
	case protocol.ServerError:
		return ErrorEvent{Frame: f}
	default:
		return nil
	}
}
