package protocol

import "errors"

// ErrFrameTooLong is returned when a payload does not fit one message block
var ErrFrameTooLong = errors.New("payload exceeds message block")

// Frame is one validated message block. Payload aliases the scanned input.
type Frame struct {
	Sequence uint8
	Payload  []byte
	CRC      uint16
}

// IsAck reports whether the frame is an ACK/NAK (no payload).
func (f Frame) IsAck() bool {
	return len(f.Payload) == 0
}

// Decoder pulls message blocks out of a byte stream. After a malformed block
// it discards input up to the next sync byte before trusting lengths again.
type Decoder struct {
	synced bool

	// RequireDest rejects blocks whose sequence byte lacks MessageDest.
	RequireDest bool

	// OnResync runs each time sync is regained after an error.
	OnResync func()

	// Errors counts malformed blocks seen.
	Errors uint32
}

// NewDecoder returns a decoder that starts synchronised.
func NewDecoder(requireDest bool) *Decoder {
	return &Decoder{synced: true, RequireDest: requireDest}
}

// Synced reports whether the decoder currently trusts block boundaries.
func (d *Decoder) Synced() bool {
	return d.synced
}

// Reset forgets any error state.
func (d *Decoder) Reset() {
	d.synced = true
}

// Next scans data for the next valid block. It returns the number of bytes
// the caller may drop from the front of data, and ok when a frame was found.
// With ok false, the remaining bytes are an incomplete block.
func (d *Decoder) Next(data []byte) (f Frame, consumed int, ok bool) {
	for consumed < len(data) {
		rest := data[consumed:]
		if !d.synced {
			i := indexSync(rest)
			if i < 0 {
				return Frame{}, len(data), false
			}
			consumed += i + 1
			d.synced = true
			if d.OnResync != nil {
				d.OnResync()
			}
			continue
		}

		if rest[0] == MessageValueSync {
			consumed++
			continue
		}
		if len(rest) < MessageLengthMin {
			return Frame{}, consumed, false
		}

		n := int(rest[MessagePositionLen])
		seq := rest[MessagePositionSeq]
		if n < MessageLengthMin || n > MessageLengthMax ||
			(d.RequireDest && seq&^MessageSeqMask != MessageDest) {
			d.fail()
			continue
		}
		if len(rest) < n {
			return Frame{}, consumed, false
		}
		if rest[n-MessageTrailerSync] != MessageValueSync {
			d.fail()
			continue
		}
		crc := uint16(rest[n-MessageTrailerCRC])<<8 | uint16(rest[n-MessageTrailerCRC+1])
		if crc != CRC16(rest[:n-MessageTrailerSize]) {
			d.fail()
			continue
		}

		consumed += n
		return Frame{
			Sequence: seq,
			Payload:  rest[MessageHeaderSize : n-MessageTrailerSize],
			CRC:      crc,
		}, consumed, true
	}
	return Frame{}, consumed, false
}

func (d *Decoder) fail() {
	d.synced = false
	d.Errors++
}

func indexSync(b []byte) int {
	for i, c := range b {
		if c == MessageValueSync {
			return i
		}
	}
	return -1
}

// AppendFrame writes one complete block carrying payload to out.
func AppendFrame(out OutputBuffer, seq uint8, payload []byte) error {
	n := len(payload) + MessageLengthMin
	if n > MessageLengthMax {
		return ErrFrameTooLong
	}
	start := out.CurPosition()
	out.Output([]byte{uint8(n), seq})
	out.Output(payload)
	crc := CRC16(out.DataSince(start))
	out.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
	return nil
}

// EncodeFrame builds a payload with body and appends it to out as one block.
func EncodeFrame(out OutputBuffer, seq uint8, body func(OutputBuffer)) error {
	var scratch ScratchOutput
	body(&scratch)
	if scratch.Overflowed() {
		return ErrFrameTooLong
	}
	return AppendFrame(out, seq, scratch.Result())
}

// EncodeCommand is EncodeFrame for a single command id plus arguments.
func EncodeCommand(out OutputBuffer, seq uint8, cmdID uint16, args func(OutputBuffer)) error {
	return EncodeFrame(out, seq, func(o OutputBuffer) {
		EncodeVLQUint(o, uint32(cmdID))
		if args != nil {
			args(o)
		}
	})
}
