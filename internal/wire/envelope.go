// Package wire implements the broker's length-prefixed, protobuf-framed
// session protocol: every message on the wire is a 4-byte
// big-endian length prefix followed by that many bytes of a protobuf
// envelope carrying a payload-type tag and an opaque payload body.
//
// There is no .proto file for this broker's wire format available to this
// codebase, so envelopes and payloads are encoded/decoded field-by-field
// with google.golang.org/protobuf's low-level protowire primitives instead
// of generated message types -- the same technique a hand-rolled protocol
// client reaches for when the schema is known but codegen isn't wired up.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize caps the accepted length prefix to guard against a corrupt
// or hostile peer asking us to allocate unbounded memory.
const MaxFrameSize = 16 << 20 // 16 MiB

// Envelope field numbers.
const (
	fieldPayloadType  protowire.Number = 1
	fieldPayload      protowire.Number = 2
	fieldClientMsgID  protowire.Number = 3
)

// Envelope is the outer protobuf message carrying payload-type and
// payload-bytes, the wire-level unit every broker message is framed in.
type Envelope struct {
	PayloadType  uint32
	Payload      []byte
	ClientMsgID  string // optional; empty if unset
}

// Marshal encodes the envelope as a protobuf message body (no length
// prefix).
func (e Envelope) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.PayloadType))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	if e.ClientMsgID != "" {
		b = protowire.AppendTag(b, fieldClientMsgID, protowire.BytesType)
		b = protowire.AppendString(b, e.ClientMsgID)
	}
	return b
}

// UnmarshalEnvelope decodes a protobuf-encoded envelope body.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, fmt.Errorf("wire: malformed envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPayloadType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("wire: malformed payload_type: %w", protowire.ParseError(n))
			}
			e.PayloadType = uint32(v)
			b = b[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("wire: malformed payload: %w", protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), v...)
			b = b[n:]
		case fieldClientMsgID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("wire: malformed client_msg_id: %w", protowire.ParseError(n))
			}
			e.ClientMsgID = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, fmt.Errorf("wire: malformed unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

// WriteFrame length-prefixes and writes a single envelope atomically. The
// caller must serialise calls (a shared writer mutex) -- WriteFrame itself
// performs no locking.
func WriteFrame(w io.Writer, e Envelope) error {
	body := e.Marshal()
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: outbound frame %d bytes exceeds max %d", len(body), MaxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed envelope from r. It blocks until a
// full frame is available, r is closed, or an I/O error occurs.
func ReadFrame(r io.Reader) (Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Envelope{}, err // EOF or wrapped I/O error, propagated verbatim
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return Envelope{}, fmt.Errorf("wire: inbound frame %d bytes exceeds max %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("wire: reading frame body: %w", err)
	}
	return UnmarshalEnvelope(body)
}
