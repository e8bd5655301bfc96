package protocol

import "sync/atomic"

// CommandHandler runs one decoded command; it consumes its own arguments
// from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware side of the link: it validates incoming blocks,
// acknowledges them and frames responses into output.
type Transport struct {
	decoder *Decoder
	nextSeq atomic.Uint32 // sequence expected from the host, 0x10-0x1F
	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()
	errorCallback func(cmdID uint16, err error)
}

// NewTransport returns a synchronised transport writing to output.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		decoder: NewDecoder(true),
		output:  output,
		handler: handler,
	}
	t.nextSeq.Store(MessageDest)
	t.decoder.OnResync = t.encodeAckNak
	return t
}

// Receive handles every complete block in input and pops what it consumed.
// Every block, in or out of sequence, is answered with an ACK/NAK carrying
// the next expected sequence.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	total := 0
	for {
		f, n, ok := t.decoder.Next(data[total:])
		total += n
		if !ok {
			break
		}

		expected := uint8(t.nextSeq.Load())
		if f.Sequence == MessageDest && expected != MessageDest {
			// Host restarted its sequence.
			t.nextSeq.Store(MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if f.Sequence == expected {
			t.nextSeq.Store(uint32(NextSequence(expected)))
			t.parseFrame(f.Payload)
		}
		t.encodeAckNak()
	}
	if total > 0 {
		input.Pop(total)
	}
}

// parseFrame dispatches each command in payload. A panicking handler drops
// the rest of the block and forces a resync instead of crashing the loop.
func (t *Transport) parseFrame(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.decoder.fail()
		}
	}()

	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			t.decoder.fail()
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &payload); err != nil {
			if t.errorCallback != nil {
				t.errorCallback(uint16(cmdID), err)
			}
			return
		}
	}
}

// encodeAckNak emits an empty block and flushes immediately; the host
// waits for it before reading responses.
func (t *Transport) encodeAckNak() {
	AppendFrame(t.output, uint8(t.nextSeq.Load()), nil)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// SendCommand frames a response with the given id and arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return EncodeCommand(t.output, uint8(t.nextSeq.Load()), cmdID, args)
}

// Reset returns to the power-on state.
func (t *Transport) Reset() {
	t.decoder.Reset()
	t.nextSeq.Store(MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// Synced reports whether the decoder trusts block boundaries.
func (t *Transport) Synced() bool {
	return t.decoder.Synced()
}

// SetResetCallback runs fn whenever the host restarts its sequence.
func (t *Transport) SetResetCallback(fn func()) {
	t.resetCallback = fn
}

// SetFlushCallback runs fn after every ACK so it reaches the wire at once.
func (t *Transport) SetFlushCallback(fn func()) {
	t.flushCallback = fn
}

// SetErrorCallback runs fn when a command handler fails.
func (t *Transport) SetErrorCallback(fn func(cmdID uint16, err error)) {
	t.errorCallback = fn
}
