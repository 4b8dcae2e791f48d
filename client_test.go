package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedServer accepts one connection and answers with the given bytes
// whenever at least one request byte arrives, then keeps the connection
// open until the test ends.
func scriptedServer(t *testing.T, response []byte) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		if _, err := conn.Write(response); err != nil {
			return
		}
		io.Copy(io.Discard, conn)
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestNetClientRequestResponse(t *testing.T) {
	port := scriptedServer(t, []byte{0x21, 0x01, 0x00, 0x00, 0x01, 0x01, 0x0D})

	client := NewNetClient("127.0.0.1", port, zerolog.Nop())
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !client.Connected() {
		t.Error("Expected Connected() after Start")
	}

	procDone := make(chan error, 1)
	go func() { procDone <- client.Process(ctx) }()

	frames := make(chan Frame, 1)
	unsub := client.Listen(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	defer unsub()

	data, err := client.Request(ctx, Zone1, CmdPower, []byte{requestStatus})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if !bytes.Equal(data, []byte{0x01}) {
		t.Errorf("Request() data = % 02X, want 01", data)
	}

	select {
	case f := <-frames:
		if f.CC != CmdPower {
			t.Errorf("Listener frame CC = 0x%02X, want 0x00", byte(f.CC))
		}
	case <-time.After(time.Second):
		t.Error("Listener never saw the response frame")
	}

	if err := client.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	select {
	case err := <-procDone:
		if err != nil {
			t.Errorf("Process() after Stop = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Error("Process never returned after Stop")
	}
	if client.Connected() {
		t.Error("Expected Connected() false after Stop")
	}
}

func TestNetClientRequestRejected(t *testing.T) {
	port := scriptedServer(t, []byte{0x21, 0x01, 0x0D, 0x85, 0x01, 0x00, 0x0D})

	client := NewNetClient("127.0.0.1", port, zerolog.Nop())
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop()
	go client.Process(ctx)

	_, err := client.Request(ctx, Zone1, CmdVolume, []byte{0x63})
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Expected ResponseError, got %v", err)
	}
	if respErr.AC != AnswerCommandInvalidNow {
		t.Errorf("ResponseError AC = 0x%02X, want 0x85", byte(respErr.AC))
	}
	if errors.Is(err, ErrConnectionFailed) {
		t.Error("A device rejection must not look like a connection failure")
	}
}

func TestNetClientRequestDuet(t *testing.T) {
	beacon := "AMXB<-SDKClass=Receiver><-Make=ARCAM><-Model=AVR450><-Revision=x.y.z>\r"
	port := scriptedServer(t, []byte(beacon))

	client := NewNetClient("127.0.0.1", port, zerolog.Nop())
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop()
	go client.Process(ctx)

	info, err := client.RequestDuet(ctx)
	if err != nil {
		t.Fatalf("RequestDuet() error = %v", err)
	}
	if info.Model != "AVR450" || info.Make != "ARCAM" {
		t.Errorf("RequestDuet() = %+v", info)
	}
}

func TestNetClientStartRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	client := NewNetClient("127.0.0.1", port, zerolog.Nop())
	err = client.Start(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Start() against closed port = %v, want ErrConnectionFailed", err)
	}
}

func TestNetClientStartTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	client := NewNetClient("127.0.0.1", 50000, zerolog.Nop())
	err := client.Start(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start() with expired context = %v, want DeadlineExceeded", err)
	}
	if errors.Is(err, ErrConnectionFailed) {
		t.Error("A timed out dial must be distinguishable from a refusal")
	}
}

func TestNetClientProcessPeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	client := NewNetClient("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, zerolog.Nop())
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err = client.Process(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Process() after peer close = %v, want ErrConnectionFailed", err)
	}
}
