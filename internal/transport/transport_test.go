package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

func TestStreamTransportRoundTrip(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	client := NewStreamTransport(clientReader, clientWriter, slog.Default())
	server := NewStreamTransport(serverReader, serverWriter, slog.Default())
	defer client.Close()
	defer server.Close()

	ctx := context.Background()
	req := &protocol.Request{ID: int64(1), Method: "ping"}
	if err := client.Send(ctx, req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-server.Receive():
		got, ok := msg.(*protocol.Request)
		if !ok {
			t.Fatalf("expected *Request, got %T", msg)
		}
		if got.Method != "ping" {
			t.Errorf("expected method ping, got %q", got.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestStreamTransportSkipsBadFrames(t *testing.T) {
	input := strings.NewReader(`{garbage}` + "\n" + `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	tr := NewStreamTransport(input, io.Discard, slog.Default())
	defer tr.Close()

	var got []protocol.Message
	for msg := range tr.Receive() {
		got = append(got, msg)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 decoded message, got %d", len(got))
	}
	if _, ok := got[0].(*protocol.Notification); !ok {
		t.Errorf("expected notification, got %T", got[0])
	}
	if tr.Err() != nil {
		t.Errorf("expected clean EOF, got %v", tr.Err())
	}
}

func TestStreamTransportEOFClosesStream(t *testing.T) {
	tr := NewStreamTransport(strings.NewReader(""), io.Discard, slog.Default())
	defer tr.Close()

	select {
	case _, ok := <-tr.Receive():
		if ok {
			t.Fatal("expected closed channel on EOF")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOF")
	}
}

func TestPipeTransportOrdering(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		notif := &protocol.Notification{
			Method: "notifications/progress",
			Params: json.RawMessage(fmt.Sprintf(`{"progressToken":"t","progress":%d}`, i)),
		}
		if err := a.Send(ctx, notif); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	for i := 1; i <= 5; i++ {
		select {
		case msg := <-b.Receive():
			notif, ok := msg.(*protocol.Notification)
			if !ok {
				t.Fatalf("expected notification, got %T", msg)
			}
			var params protocol.ProgressParams
			if err := json.Unmarshal(notif.Params, &params); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if int(params.Progress) != i {
				t.Errorf("expected progress %d in order, got %v", i, params.Progress)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestPipeTransportClose(t *testing.T) {
	a, b := Pipe()
	a.Close()

	select {
	case _, ok := <-b.Receive():
		if ok {
			t.Fatal("expected EOF on peer after close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOF")
	}

	if err := a.Send(context.Background(), &protocol.Request{ID: int64(1), Method: "ping"}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestCommandConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CommandConfig
		wantErr string
	}{
		{"valid", CommandConfig{Command: "/usr/bin/mcp-server", Args: []string{"--config", "a.yaml"}}, ""},
		{"missing command", CommandConfig{}, "command is required"},
		{"path traversal", CommandConfig{Command: "../../bin/sh"}, "path traversal"},
		{"command chaining", CommandConfig{Command: "/bin/echo", Args: []string{"a; rm -rf /"}}, "shell metacharacters"},
		{"substitution", CommandConfig{Command: "/bin/echo", Args: []string{"$(whoami)"}}, "shell metacharacters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
