// Package live defines the contract for real-time transcription services and
// the [Bridge] that connects a microphone to one of them.
//
// A [Transport] dials a [Conn]: a bidirectional session that accepts encoded
// audio and emits a stream of tagged [Event] values (partial transcripts,
// turn boundaries, audio replies, interruptions, errors). The [Bridge] wraps a
// single connection with the lifecycle the session controller needs: it can be
// opened without blocking, accepts audio while the connection is still being
// established, and closes idempotently from any state.
package live

import (
	"context"
	"fmt"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// Modality is a response modality requested from the service.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Config is the session setup sent when a connection is opened.
type Config struct {
	// Model is the service model identifier, without any "models/" prefix.
	Model string

	// ResponseModalities lists the reply formats requested.
	ResponseModalities []Modality

	// Voice is the prebuilt voice used for audio replies. Empty keeps the
	// service default.
	Voice string

	// SystemInstruction primes the model for the session.
	SystemInstruction string

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's spoken replies.
	OutputTranscription bool
}

// EventKind tags an [Event].
type EventKind int

const (
	// EventOpen is emitted once the connection is established.
	EventOpen EventKind = iota

	// EventInputTranscript carries a fragment of the user's speech in Text.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the model's reply in Text.
	EventOutputTranscript

	// EventTurnComplete marks the end of a conversational turn.
	EventTurnComplete

	// EventAudio carries an audio reply fragment in Audio.
	EventAudio

	// EventInterrupted means the model stopped replying because the user
	// started talking; queued reply audio should be discarded.
	EventInterrupted

	// EventError carries a transport or service failure in Err. The
	// connection is unusable afterwards.
	EventError

	// EventClose is the last event of every session.
	EventClose
)

// String returns the name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one message from the service.
type Event struct {
	Kind  EventKind
	Text  string
	Audio audio.EncodedChunk
	Err   error
}

// Conn is an established session.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// Send forwards one encoded audio chunk.
	Send(ctx context.Context, chunk audio.EncodedChunk) error

	// Events returns the stream of service events in transport order. Only
	// transcript, turn, audio, interruption and error events travel on it.
	// The channel is closed when the connection ends, for whatever reason.
	// A failure is reported as a single EventError before the close.
	Events() <-chan Event

	// Close ends the session. Safe to call more than once.
	Close() error
}

// Transport opens sessions with a real-time service.
type Transport interface {
	// Dial connects and completes the session setup handshake. The returned
	// Conn is ready for audio.
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Callbacks adapts an event stream to per-kind handlers. Nil handlers are
// skipped.
type Callbacks struct {
	OnOpen          func()
	OnPartialInput  func(text string)
	OnPartialOutput func(text string)
	OnTurnComplete  func()
	OnAudioChunk    func(chunk audio.EncodedChunk)
	OnInterrupted   func()
	OnError         func(err error)
	OnClose         func()
}

// Sink returns a function suitable for [Bridge.Open].
func (c Callbacks) Sink() func(Event) {
	return func(ev Event) {
		switch ev.Kind {
		case EventOpen:
			call0(c.OnOpen)
		case EventInputTranscript:
			if c.OnPartialInput != nil {
				c.OnPartialInput(ev.Text)
			}
		case EventOutputTranscript:
			if c.OnPartialOutput != nil {
				c.OnPartialOutput(ev.Text)
			}
		case EventTurnComplete:
			call0(c.OnTurnComplete)
		case EventAudio:
			if c.OnAudioChunk != nil {
				c.OnAudioChunk(ev.Audio)
			}
		case EventInterrupted:
			call0(c.OnInterrupted)
		case EventError:
			if c.OnError != nil {
				c.OnError(ev.Err)
			}
		case EventClose:
			call0(c.OnClose)
		}
	}
}

func call0(fn func()) {
	if fn != nil {
		fn()
	}
}
