package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

func echoTool(name string) *protocol.Tool {
	return &protocol.Tool{
		Name:        name,
		Description: "echoes its input",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}
}

func echoHandler(ctx context.Context, args json.RawMessage) (*protocol.ToolCallResult, error) {
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	return &protocol.ToolCallResult{Content: []protocol.Content{protocol.TextContent(params.Text)}}, nil
}

func TestCollectionInsertionOrder(t *testing.T) {
	c := NewCollection[int]()
	keys := []string{"delta", "alpha", "zulu", "bravo"}
	for i, k := range keys {
		c.Put(k, i)
	}

	got := c.List()
	for i, v := range got {
		if v != i {
			t.Fatalf("expected insertion order preserved, got %v", got)
		}
	}

	// Replacement keeps position.
	c.Put("alpha", 99)
	got = c.List()
	if got[1] != 99 {
		t.Errorf("expected replaced value in original position, got %v", got)
	}
	if c.Len() != 4 {
		t.Errorf("expected 4 items, got %d", c.Len())
	}
}

func TestCollectionDelete(t *testing.T) {
	c := NewCollection[string]()
	c.Put("a", "1")
	c.Put("b", "2")

	if !c.Delete("a") {
		t.Error("expected delete of present key to report true")
	}
	if c.Delete("a") {
		t.Error("expected delete of absent key to report false")
	}
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}
}

func TestRegisterToolRejectsNonObjectSchema(t *testing.T) {
	s := NewStore()
	defer s.Close()

	err := s.RegisterTool(&protocol.Tool{
		Name:        "bad",
		InputSchema: json.RawMessage(`{"type":"array"}`),
	}, echoHandler)
	if err == nil || !strings.Contains(err.Error(), "inputSchema.type") {
		t.Errorf("expected schema shape error, got %v", err)
	}
}

func TestCallToolValidatesArguments(t *testing.T) {
	s := NewStore()
	defer s.Close()

	if err := s.RegisterTool(echoTool("echo"), echoHandler); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}

	// Valid arguments.
	result, err := s.CallTool(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Errorf("unexpected result %+v", result)
	}

	// Missing required argument.
	_, err = s.CallTool(context.Background(), "echo", json.RawMessage(`{}`))
	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.ErrCodeInvalidParams {
		t.Errorf("expected InvalidParams for schema violation, got %v", err)
	}

	// Unknown tool.
	_, err = s.CallTool(context.Background(), "nope", nil)
	if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.ErrCodeInvalidParams {
		t.Errorf("expected InvalidParams for unknown tool, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("expected unknown tool message, got %v", err)
	}
}

func TestListChangedSignalDebounced(t *testing.T) {
	s := NewStore()
	defer s.Close()

	var mu sync.Mutex
	changes := make(map[Kind]int)
	s.OnListChanged(func(kind Kind) {
		mu.Lock()
		defer mu.Unlock()
		changes[kind]++
	})

	for i := 0; i < 5; i++ {
		name := "tool" + string(rune('a'+i))
		if err := s.RegisterTool(echoTool(name), echoHandler); err != nil {
			t.Fatalf("RegisterTool() error = %v", err)
		}
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if changes[KindTools] != 1 {
		t.Errorf("expected 1 debounced tools signal, got %d", changes[KindTools])
	}
}

func TestPromptRequiredArguments(t *testing.T) {
	s := NewStore()
	defer s.Close()

	prompt := &protocol.Prompt{
		Name: "greet",
		Arguments: []protocol.PromptArgument{
			{Name: "who", Required: true},
		},
	}
	err := s.RegisterPrompt(prompt, func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{
				{Role: "user", Content: protocol.TextContent("hello " + args["who"])},
			},
		}, nil
	})
	if err != nil {
		t.Fatalf("RegisterPrompt() error = %v", err)
	}

	if _, err := s.GetPrompt(context.Background(), "greet", nil); err == nil {
		t.Error("expected error for missing required argument")
	}

	result, err := s.GetPrompt(context.Background(), "greet", map[string]string{"who": "world"})
	if err != nil {
		t.Fatalf("GetPrompt() error = %v", err)
	}
	if result.Messages[0].Content.Text != "hello world" {
		t.Errorf("unexpected prompt result %+v", result)
	}
}

func TestResourceReadUnknownURI(t *testing.T) {
	s := NewStore()
	defer s.Close()

	_, err := s.ReadResource(context.Background(), "resource://missing")
	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.ErrCodeInvalidParams {
		t.Errorf("expected InvalidParams, got %v", err)
	}
}

func TestResourceRegistrationAndRead(t *testing.T) {
	s := NewStore()
	defer s.Close()

	resource := &protocol.Resource{URI: "resource://doc/1", Name: "doc"}
	err := s.RegisterResource(resource, func(ctx context.Context) ([]protocol.ResourceContents, error) {
		return []protocol.ResourceContents{
			&protocol.TextResourceContents{URI: "resource://doc/1", Text: "content"},
		}, nil
	})
	if err != nil {
		t.Fatalf("RegisterResource() error = %v", err)
	}

	contents, err := s.ReadResource(context.Background(), "resource://doc/1")
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	text, ok := contents[0].(*protocol.TextResourceContents)
	if !ok || text.Text != "content" {
		t.Errorf("unexpected contents %+v", contents)
	}
}
