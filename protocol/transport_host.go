//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// ResponseHandler receives each response the MCU sends, on the read goroutine
type ResponseHandler func(cmdID uint16, data *[]byte) error

// ErrTransportClosed is returned by calls made after Close
var ErrTransportClosed = errors.New("transport closed")

// Message is a received response block
type Message struct {
	Sequence uint8
	Payload  []byte
}

// HostTransport is the host side of the link: it frames commands, waits for
// their ACK, retransmits on NAK or timeout and hands responses to a handler.
type HostTransport struct {
	port    io.ReadWriteCloser
	log     *logiface.Logger[*stumpy.Event]
	seq     atomic.Uint32
	decoder *Decoder
	input   *FifoBuffer

	sendMu    sync.Mutex
	acks      chan uint8
	responses chan Message

	handlerMu sync.RWMutex
	handler   ResponseHandler

	// AckTimeout bounds each transmission attempt.
	AckTimeout time.Duration
	// Retries is the number of retransmissions after the first attempt.
	Retries int

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port. log may be nil.
func NewHostTransport(port io.ReadWriteCloser, log *logiface.Logger[*stumpy.Event]) *HostTransport {
	t := &HostTransport{
		port:       port,
		log:        log,
		decoder:    NewDecoder(true),
		input:      NewFifoBuffer(4 * MessageMax),
		acks:       make(chan uint8, 4),
		responses:  make(chan Message, 64),
		AckTimeout: 500 * time.Millisecond,
		Retries:    3,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	t.seq.Store(MessageDest)
	go t.readLoop()
	return t
}

// SetResponseHandler installs fn for asynchronous responses.
func (t *HostTransport) SetResponseHandler(fn ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = fn
	t.handlerMu.Unlock()
}

// SendCommand frames one command and blocks until the MCU acknowledges it.
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	var last error
	for attempt := 0; attempt <= t.Retries; attempt++ {
		seq := uint8(t.seq.Load())
		var frame ScratchOutput
		if err := EncodeCommand(&frame, seq, cmdID, args); err != nil {
			return fmt.Errorf("encode command %d: %w", cmdID, err)
		}
		t.drainAcks()
		if _, err := t.port.Write(frame.Result()); err != nil {
			return fmt.Errorf("write command %d: %w", cmdID, err)
		}

		ack, err := t.waitAck(ctx)
		switch {
		case err == nil && ack == NextSequence(seq):
			t.seq.Store(uint32(ack))
			return nil
		case err == nil:
			// NAK: adopt the MCU's expected sequence and retransmit.
			t.seq.Store(uint32(ack))
			last = fmt.Errorf("nak: sent 0x%02x, mcu expects 0x%02x", seq, ack)
		case errors.Is(err, errAckTimeout):
			last = err
		default:
			return err
		}
		t.log.Debug().
			Int("cmd", int(cmdID)).
			Int("attempt", attempt+1).
			Err(last).
			Log("retransmitting")
	}
	return fmt.Errorf("command %d not acknowledged: %w", cmdID, last)
}

var errAckTimeout = errors.New("ack timeout")

func (t *HostTransport) waitAck(ctx context.Context) (uint8, error) {
	timer := time.NewTimer(t.AckTimeout)
	defer timer.Stop()
	select {
	case seq := <-t.acks:
		return seq, nil
	case <-timer.C:
		return 0, errAckTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.stop:
		return 0, ErrTransportClosed
	}
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

// ReceiveResponse returns the next response block.
func (t *HostTransport) ReceiveResponse(ctx context.Context) (Message, error) {
	select {
	case m := <-t.responses:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.stop:
		return Message{}, ErrTransportClosed
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			if w := t.input.Write(buf[:n]); w < n {
				t.log.Warning().Int("dropped", n-w).Log("input buffer full")
			}
			t.processInput()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case <-t.stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

func (t *HostTransport) processInput() {
	data := t.input.Data()
	total := 0
	for {
		f, n, ok := t.decoder.Next(data[total:])
		total += n
		if !ok {
			break
		}
		if f.IsAck() {
			select {
			case t.acks <- f.Sequence:
			default:
			}
			continue
		}
		t.dispatch(f)
	}
	t.input.Pop(total)
}

func (t *HostTransport) dispatch(f Frame) {
	payload := make([]byte, len(f.Payload))
	copy(payload, f.Payload)

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := payload
		for len(data) > 0 {
			cmdID, err := DecodeVLQUint(&data)
			if err != nil {
				break
			}
			if err := handler(uint16(cmdID), &data); err != nil {
				t.log.Warning().Int("cmd", int(cmdID)).Err(err).Log("response handler failed")
				break
			}
		}
	}

	m := Message{Sequence: f.Sequence, Payload: payload}
	select {
	case t.responses <- m:
	default:
		select {
		case <-t.responses:
		default:
		}
		select {
		case t.responses <- m:
		default:
		}
	}
}

// Sequence returns the sequence byte the next command will carry.
func (t *HostTransport) Sequence() uint8 {
	return uint8(t.seq.Load())
}

// Reset restarts the sequence and drops buffered input and responses.
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.seq.Store(MessageDest)
	t.drainAcks()
	for {
		select {
		case <-t.responses:
			continue
		default:
		}
		break
	}
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}
