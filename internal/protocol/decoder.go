package protocol

// Phase names the decoder's position in the frame grammar
type Phase int

const (
	PhaseUnsynchronized Phase = iota // Discarding bytes until FrameStart
	PhaseAwaitingType                // Next byte is the message type
	PhaseAwaitingLength              // Next byte is the payload length
	PhaseAccumulating                // Collecting payload, then checking FrameEnd
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseUnsynchronized:
		return "Unsynchronized"
	case PhaseAwaitingType:
		return "AwaitingType"
	case PhaseAwaitingLength:
		return "AwaitingLength"
	case PhaseAccumulating:
		return "Accumulating"
	default:
		return "Unknown"
	}
}

// decoderState is a closed set of variants, one per Phase.
// Each variant carries only the data that is valid in that phase.
type decoderState interface {
	phase() Phase
}

type unsynchronized struct{}

type awaitingType struct{}

type awaitingLength struct {
	msgType MessageType
}

// accumulating holds a frame whose length is known. Once remaining hits zero
// the next byte is the terminator check.
type accumulating struct {
	msgType   MessageType
	remaining int
	payload   []byte
}

func (unsynchronized) phase() Phase { return PhaseUnsynchronized }
func (awaitingType) phase() Phase   { return PhaseAwaitingType }
func (awaitingLength) phase() Phase { return PhaseAwaitingLength }
func (*accumulating) phase() Phase  { return PhaseAccumulating }

// Decoder recovers Messages from a noisy notification byte stream.
//
// Bytes are processed one at a time and the decoder keeps its position between
// calls, so frames may be split across or merged within chunks in any way.
// Anything that does not fit the frame grammar resets the decoder to
// PhaseUnsynchronized without an error.
//
// A Decoder is owned by a single reader and is not safe for concurrent use.
type Decoder struct {
	state decoderState
}

// NewDecoder creates a decoder in the unsynchronized phase
func NewDecoder() *Decoder {
	return &Decoder{state: unsynchronized{}}
}

// Phase returns the decoder's current phase
func (d *Decoder) Phase() Phase {
	return d.current().phase()
}

// Reset drops any partial frame and returns to PhaseUnsynchronized
func (d *Decoder) Reset() {
	d.state = unsynchronized{}
}

// Consume feeds a chunk of raw bytes and returns every message completed by it
func (d *Decoder) Consume(chunk []byte) []Message {
	var out []Message
	for _, b := range chunk {
		if msg, ok := d.ConsumeByte(b); ok {
			out = append(out, msg)
		}
	}
	return out
}

// ConsumeByte advances the state machine by one byte.
// It returns a message when b correctly terminates a frame.
func (d *Decoder) ConsumeByte(b byte) (Message, bool) {
	switch st := d.current().(type) {
	case unsynchronized:
		if b == FrameStart {
			d.state = awaitingType{}
		}

	case awaitingType:
		msgType, ok := ParseMessageType(b)
		if !ok {
			d.Reset()
			break
		}
		d.state = awaitingLength{msgType: msgType}

	case awaitingLength:
		if !st.msgType.acceptsLength(b) {
			d.Reset()
			break
		}
		d.state = &accumulating{
			msgType:   st.msgType,
			remaining: int(b),
			payload:   make([]byte, 0, int(b)),
		}

	case *accumulating:
		if st.remaining > 0 {
			st.payload = append(st.payload, b)
			st.remaining--
			break
		}
		d.Reset()
		if b == FrameEnd {
			return Message{Type: st.msgType, Payload: st.payload}, true
		}
	}

	return Message{}, false
}

// current guards against the zero Decoder value
func (d *Decoder) current() decoderState {
	if d.state == nil {
		d.state = unsynchronized{}
	}
	return d.state
}
