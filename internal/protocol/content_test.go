package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestResourceContentsDiscrimination(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"text", `{"uri":"file:///a.txt","mimeType":"text/plain","text":"hello"}`, "text"},
		{"blob", `{"uri":"file:///a.bin","blob":"aGVsbG8="}`, "blob"},
		{"blob wins over text", `{"uri":"file:///a","text":"x","blob":"eA=="}`, "blob"},
		{"empty text still text", `{"uri":"file:///a.txt","text":""}`, "text"},
		{"neither", `{"uri":"file:///a"}`, "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contents, err := UnmarshalResourceContents([]byte(tt.data))
			if err != nil {
				t.Fatalf("UnmarshalResourceContents() error = %v", err)
			}

			var got string
			switch contents.(type) {
			case *TextResourceContents:
				got = "text"
			case *BlobResourceContents:
				got = "blob"
			case nil:
				got = "nil"
			}
			if got != tt.want {
				t.Errorf("expected %s variant, got %s", tt.want, got)
			}
		})
	}
}

func TestBlobResourceContentsRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xff, 0xfe, 0x7f}
	blob := &BlobResourceContents{
		URI:      "file:///data.bin",
		MimeType: "application/octet-stream",
		Blob:     base64.StdEncoding.EncodeToString(raw),
	}

	data, err := json.Marshal(blob)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	decoded, err := UnmarshalResourceContents(data)
	if err != nil {
		t.Fatalf("UnmarshalResourceContents() error = %v", err)
	}
	got, ok := decoded.(*BlobResourceContents)
	if !ok {
		t.Fatalf("expected blob variant, got %T", decoded)
	}

	bytes, err := base64.StdEncoding.DecodeString(got.Blob)
	if err != nil {
		t.Fatalf("base64 decode error = %v", err)
	}
	if string(bytes) != string(raw) {
		t.Errorf("blob bytes changed across round trip")
	}
}

func TestReadResourceResultDecode(t *testing.T) {
	data := []byte(`{"contents":[
		{"uri":"file:///a.txt","text":"alpha"},
		{"uri":"file:///b.bin","blob":"Yg=="}
	]}`)

	var result ReadResourceResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(result.Contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(result.Contents))
	}
	if _, ok := result.Contents[0].(*TextResourceContents); !ok {
		t.Errorf("expected text variant first, got %T", result.Contents[0])
	}
	if _, ok := result.Contents[1].(*BlobResourceContents); !ok {
		t.Errorf("expected blob variant second, got %T", result.Contents[1])
	}
}

func TestContentWithEmbeddedResource(t *testing.T) {
	data := []byte(`{"type":"resource","resource":{"uri":"file:///r.txt","text":"embedded"}}`)

	var content Content
	if err := json.Unmarshal(data, &content); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if content.Type != ContentTypeResource {
		t.Errorf("expected type resource, got %q", content.Type)
	}
	text, ok := content.Resource.(*TextResourceContents)
	if !ok {
		t.Fatalf("expected text resource, got %T", content.Resource)
	}
	if text.Text != "embedded" {
		t.Errorf("expected text %q, got %q", "embedded", text.Text)
	}
}

func TestToolValidateShape(t *testing.T) {
	tests := []struct {
		name    string
		tool    Tool
		wantErr bool
	}{
		{
			"valid object schema",
			Tool{Name: "search", InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
			false,
		},
		{
			"non-object schema",
			Tool{Name: "bad", InputSchema: json.RawMessage(`{"type":"string"}`)},
			true,
		},
		{
			"missing schema",
			Tool{Name: "empty"},
			true,
		},
		{
			"missing name",
			Tool{InputSchema: json.RawMessage(`{"type":"object"}`)},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tool.ValidateShape()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateShape() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
