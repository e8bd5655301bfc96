//go:build !tinygo

package protocol

import (
	"context"
	"net"
	"testing"
	"time"
)

// fakeMCU runs a firmware Transport on the far end of a pipe.
func fakeMCU(t *testing.T, conn net.Conn, handler func(tr *Transport, cmdID uint16, data *[]byte) error) {
	t.Helper()
	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return handler(tr, cmdID, data)
	})
	in := NewFifoBuffer(1024)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			in.Write(buf[:n])
			tr.Receive(in)
			if out.CurPosition() > 0 {
				if _, err := conn.Write(out.Result()); err != nil {
					return
				}
				out.Reset()
			}
		}
	}()
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()

	fakeMCU(t, mcuEnd, func(tr *Transport, cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		return tr.SendCommand(cmdID+1, func(o OutputBuffer) { EncodeVLQUint(o, v*2) })
	})

	host := NewHostTransport(hostEnd, nil)
	defer host.Close()

	type resp struct{ id, v uint32 }
	got := make(chan resp, 4)
	host.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		got <- resp{uint32(cmdID), v}
		return err
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := uint32(1); i <= 3; i++ {
		if err := host.SendCommand(ctx, 10, func(o OutputBuffer) { EncodeVLQUint(o, i) }); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		select {
		case r := <-got:
			if r.id != 11 || r.v != i*2 {
				t.Errorf("response = %+v, want id 11 v %d", r, i*2)
			}
		case <-ctx.Done():
			t.Fatal("no response")
		}
	}
	if host.Sequence() != 0x13 {
		t.Errorf("sequence = 0x%02x, want 0x13", host.Sequence())
	}
}

func TestHostTransportAckTimeout(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()

	// Swallow everything, never answer.
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := mcuEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	host := NewHostTransport(hostEnd, nil)
	defer host.Close()
	host.AckTimeout = 20 * time.Millisecond
	host.Retries = 1

	err := host.SendCommand(context.Background(), 1, nil)
	if err == nil {
		t.Fatal("expected timeout")
	}
}

func TestHostTransportClosed(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	defer mcuEnd.Close()

	host := NewHostTransport(hostEnd, nil)
	if err := host.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := host.ReceiveResponse(context.Background()); err != ErrTransportClosed {
		t.Errorf("err = %v, want ErrTransportClosed", err)
	}
}
