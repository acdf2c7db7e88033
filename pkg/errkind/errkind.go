// Package errkind classifies the error categories and recovery policies
// from spec.md §7's error handling design table, so callers across the
// module can tag and react to errors consistently instead of matching
// on ad-hoc string content.
package errkind

// Kind names one of the error categories from spec.md §7.
type Kind int

const (
	// TransientNetwork covers EAGAIN/ETIMEDOUT-class recv errors:
	// retry on the next tick, just count it.
	TransientNetwork Kind = iota

	// PacketCorruption covers AES tag failures or out-of-range fields:
	// drop the packet silently.
	PacketCorruption

	// FramedMessageCorruption covers a TCP declared size out of range:
	// poison the connection and tear it down.
	FramedMessageCorruption

	// ConnectionLost covers ping timeout or ECONNRESET-class failures:
	// mark the context lost, expose via the owner's update path.
	ConnectionLost

	// CaptureFailure covers the capture device returning an error:
	// destroy and request recreation, along with the encoder if tied to it.
	CaptureFailure

	// EncoderFactoryFailure covers create_video_encoder-class failures:
	// fatal, the server cannot proceed.
	EncoderFactoryFailure

	// RingBufferOverrun covers a new frame that would overwrite an
	// unrendered one: reset the whole ring and request recovery.
	RingBufferOverrun

	// InvariantViolation covers things like mismatched N_original/N_fec
	// across packets of the same frame id: fatal assert.
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case TransientNetwork:
		return "transient_network"
	case PacketCorruption:
		return "packet_corruption"
	case FramedMessageCorruption:
		return "framed_message_corruption"
	case ConnectionLost:
		return "connection_lost"
	case CaptureFailure:
		return "capture_failure"
	case EncoderFactoryFailure:
		return "encoder_factory_failure"
	case RingBufferOverrun:
		return "ring_buffer_overrun"
	case InvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind should bring the process
// down rather than be handled inline, per spec.md §7: "Only invariant
// violations and unrecoverable resource-exhaustion are fatal."
func (k Kind) Fatal() bool {
	return k == EncoderFactoryFailure || k == InvariantViolation
}

// Error wraps an underlying error with its Kind so callers further up
// the stack can branch on classification without re-deriving it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}
