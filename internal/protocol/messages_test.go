package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeMessageKinds(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, "request"},
		{"string id request", `{"jsonrpc":"2.0","id":"abc","method":"tools/list","params":{}}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, "response"},
		{"error response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeMessage() error = %v", err)
			}

			var got string
			switch msg.(type) {
			case *Request:
				got = "request"
			case *Notification:
				got = "notification"
			case *Response:
				got = "response"
			case *ErrorResponse:
				got = "error"
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDecodeMessageMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	rpcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if rpcErr.Code != ErrCodeParseError {
		t.Errorf("expected code %d, got %d", ErrCodeParseError, rpcErr.Code)
	}
}

func TestDecodeMessageStructuralMismatch(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty object", `{}`},
		{"id only", `{"jsonrpc":"2.0","id":7}`},
		{"boolean id", `{"jsonrpc":"2.0","id":true,"method":"ping"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			rpcErr, ok := err.(*Error)
			if !ok {
				t.Fatalf("expected *Error, got %T", err)
			}
			if rpcErr.Code != ErrCodeInvalidRequest {
				t.Errorf("expected code %d, got %d", ErrCodeInvalidRequest, rpcErr.Code)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	messages := []Message{
		&Request{ID: int64(42), Method: "tools/call", Params: json.RawMessage(`{"name":"search"}`)},
		&Request{ID: "req-1", Method: "ping"},
		&Notification{Method: "notifications/progress", Params: json.RawMessage(`{"progressToken":"t","progress":0.5}`)},
		&Response{ID: int64(42), Result: json.RawMessage(`{"ok":true}`)},
		&ErrorResponse{ID: "req-1", Error: &Error{Code: ErrCodeInvalidParams, Message: "bad cursor"}},
	}

	for _, msg := range messages {
		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("EncodeMessage() error = %v", err)
		}
		decoded, err := DecodeMessage(data)
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}

		switch want := msg.(type) {
		case *Request:
			got, ok := decoded.(*Request)
			if !ok {
				t.Fatalf("expected *Request, got %T", decoded)
			}
			if got.Method != want.Method || IDKey(got.ID) != IDKey(want.ID) {
				t.Errorf("request round trip mismatch: %+v vs %+v", got, want)
			}
		case *Notification:
			got, ok := decoded.(*Notification)
			if !ok {
				t.Fatalf("expected *Notification, got %T", decoded)
			}
			if got.Method != want.Method {
				t.Errorf("expected method %q, got %q", want.Method, got.Method)
			}
		case *Response:
			got, ok := decoded.(*Response)
			if !ok {
				t.Fatalf("expected *Response, got %T", decoded)
			}
			if IDKey(got.ID) != IDKey(want.ID) {
				t.Errorf("response id mismatch")
			}
		case *ErrorResponse:
			got, ok := decoded.(*ErrorResponse)
			if !ok {
				t.Fatalf("expected *ErrorResponse, got %T", decoded)
			}
			if got.Error.Code != want.Error.Code {
				t.Errorf("expected code %d, got %d", want.Error.Code, got.Error.Code)
			}
		}
	}
}

func TestIDKeyDistinguishesTypes(t *testing.T) {
	if IDKey("7") == IDKey(int64(7)) {
		t.Error("string and integer ids must not collide")
	}
	if IDKey(int64(7)) != IDKey(float64(7)) {
		t.Error("json numeric ids must normalize to the same key")
	}
}

func TestProgressToken(t *testing.T) {
	params := json.RawMessage(`{"name":"slow","_meta":{"progressToken":"tok-9"}}`)
	token := ProgressToken(params)
	if token != "tok-9" {
		t.Errorf("expected token tok-9, got %v", token)
	}

	if got := ProgressToken(json.RawMessage(`{"name":"x"}`)); got != nil {
		t.Errorf("expected nil token, got %v", got)
	}
	if got := ProgressToken(nil); got != nil {
		t.Errorf("expected nil token for empty params, got %v", got)
	}
}

func TestErrorData(t *testing.T) {
	err := NewErrorWithData(ErrCodeInvalidParams, "Insufficient scope for admin_delete", ErrorData{
		WWWAuthenticate: `Bearer realm="mcp", scope="write:admin"`,
		Status:          401,
	})

	data, ok := ErrorDataOf(err)
	if !ok {
		t.Fatal("expected error data")
	}
	if data.Status != 401 {
		t.Errorf("expected status 401, got %d", data.Status)
	}
	if !strings.HasPrefix(data.WWWAuthenticate, "Bearer ") {
		t.Errorf("expected Bearer challenge, got %q", data.WWWAuthenticate)
	}

	if _, ok := ErrorDataOf(NewError(ErrCodeInternalError, "boom")); ok {
		t.Error("expected no data on plain error")
	}
}
