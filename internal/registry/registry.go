// Package registry holds the server's primitives: tools, prompts,
// resources and resource templates. Collections are insertion-ordered,
// safe for concurrent use, and emit debounced list_changed signals on
// mutation.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/mcpd/internal/debounce"
	"github.com/haasonsaas/mcpd/internal/protocol"
)

// Kind names the primitive collections; the values match the notification
// path segments.
type Kind string

const (
	KindTools     Kind = "tools"
	KindPrompts   Kind = "prompts"
	KindResources Kind = "resources"
)

// Collection is an insertion-ordered name/uri -> item mapping. Lookups are
// O(1); List snapshots in insertion order, so an iteration is unaffected
// by concurrent mutation.
type Collection[T any] struct {
	mu    sync.RWMutex
	order []string
	items map[string]T
}

// NewCollection creates an empty collection.
func NewCollection[T any]() *Collection[T] {
	return &Collection[T]{items: make(map[string]T)}
}

// Put inserts or replaces an item. Replacement keeps the original
// position. Reports whether the key was new.
func (c *Collection[T]) Put(key string, item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.items[key]
	if !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = item
	return !exists
}

// Get looks an item up by key.
func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	return item, ok
}

// Delete removes an item. Reports whether it was present.
func (c *Collection[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns a snapshot of the items in insertion order.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.items[key])
	}
	return out
}

// Len returns the number of items.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// ToolHandler executes one tool call. Tool-internal failures should be
// reported inside the result with IsError set, not as an error return.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*protocol.ToolCallResult, error)

// registeredTool pairs a tool definition with its handler and compiled
// input schema.
type registeredTool struct {
	tool    *protocol.Tool
	handler ToolHandler
	schema  *jsonschema.Schema
}

// Store aggregates the four primitive collections and the change signal
// fan-out.
type Store struct {
	tools     *Collection[*registeredTool]
	prompts   *Collection[*protocol.Prompt]
	resources *Collection[*protocol.Resource]
	templates *Collection[*protocol.ResourceTemplate]

	promptHandlers sync.Map // name -> PromptHandler
	readers        sync.Map // uri -> ResourceReader

	signaler *debounce.Signaler

	mu        sync.Mutex
	listeners []func(kind Kind)
}

// PromptHandler renders one prompt.
type PromptHandler func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

// ResourceReader reads one resource's contents.
type ResourceReader func(ctx context.Context) ([]protocol.ResourceContents, error)

// NewStore creates an empty store with debounced change signals.
func NewStore() *Store {
	s := &Store{
		tools:     NewCollection[*registeredTool](),
		prompts:   NewCollection[*protocol.Prompt](),
		resources: NewCollection[*protocol.Resource](),
		templates: NewCollection[*protocol.ResourceTemplate](),
	}
	s.signaler = debounce.NewSignaler(func(key string) {
		s.mu.Lock()
		listeners := make([]func(Kind), len(s.listeners))
		copy(listeners, s.listeners)
		s.mu.Unlock()
		for _, listener := range listeners {
			listener(Kind(key))
		}
	})
	return s
}

// OnListChanged registers a listener for change signals. Listeners run on
// the debounce timer goroutine and must not block.
func (s *Store) OnListChanged(listener func(kind Kind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Close stops the change signal fan-out.
func (s *Store) Close() {
	s.signaler.Stop()
}

// RegisterTool validates and registers a tool with its handler. The input
// schema must be an object schema and must compile.
func (s *Store) RegisterTool(tool *protocol.Tool, handler ToolHandler) error {
	if err := tool.ValidateShape(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Name)
	}

	schema, err := jsonschema.CompileString(tool.Name+".schema.json", string(tool.InputSchema))
	if err != nil {
		return fmt.Errorf("tool %s: compile input schema: %w", tool.Name, err)
	}

	s.tools.Put(tool.Name, &registeredTool{tool: tool, handler: handler, schema: schema})
	s.signaler.Signal(string(KindTools))
	return nil
}

// UnregisterTool removes a tool.
func (s *Store) UnregisterTool(name string) {
	if s.tools.Delete(name) {
		s.signaler.Signal(string(KindTools))
	}
}

// Tool returns a tool definition by name.
func (s *Store) Tool(name string) (*protocol.Tool, bool) {
	reg, ok := s.tools.Get(name)
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// Tools returns all tool definitions in registration order.
func (s *Store) Tools() []*protocol.Tool {
	regs := s.tools.List()
	out := make([]*protocol.Tool, 0, len(regs))
	for _, reg := range regs {
		out = append(out, reg.tool)
	}
	return out
}

// CallTool validates the arguments against the tool's schema and runs the
// handler. An unknown tool or a schema violation is InvalidParams.
func (s *Store) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.ToolCallResult, error) {
	reg, ok := s.tools.Get(name)
	if !ok {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("unknown tool: %s", name))
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("tool %s: arguments are not valid JSON: %v", name, err))
	}
	if err := reg.schema.Validate(decoded); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("tool %s: %v", name, err))
	}

	return reg.handler(ctx, args)
}

// RegisterPrompt registers a prompt with its render handler.
func (s *Store) RegisterPrompt(prompt *protocol.Prompt, handler PromptHandler) error {
	if prompt.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if handler == nil {
		return fmt.Errorf("prompt %s: handler is required", prompt.Name)
	}
	s.prompts.Put(prompt.Name, prompt)
	s.promptHandlers.Store(prompt.Name, handler)
	s.signaler.Signal(string(KindPrompts))
	return nil
}

// UnregisterPrompt removes a prompt.
func (s *Store) UnregisterPrompt(name string) {
	if s.prompts.Delete(name) {
		s.promptHandlers.Delete(name)
		s.signaler.Signal(string(KindPrompts))
	}
}

// Prompts returns all prompts in registration order.
func (s *Store) Prompts() []*protocol.Prompt {
	return s.prompts.List()
}

// GetPrompt renders a prompt. Missing required arguments are
// InvalidParams.
func (s *Store) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	prompt, ok := s.prompts.Get(name)
	if !ok {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("unknown prompt: %s", name))
	}
	for _, arg := range prompt.Arguments {
		if arg.Required {
			if _, ok := args[arg.Name]; !ok {
				return nil, protocol.NewError(protocol.ErrCodeInvalidParams,
					fmt.Sprintf("prompt %s: missing required argument %q", name, arg.Name))
			}
		}
	}

	value, ok := s.promptHandlers.Load(name)
	if !ok {
		return nil, protocol.NewError(protocol.ErrCodeInternalError, fmt.Sprintf("prompt %s has no handler", name))
	}
	return value.(PromptHandler)(ctx, args)
}

// RegisterResource registers a resource with its reader.
func (s *Store) RegisterResource(resource *protocol.Resource, reader ResourceReader) error {
	if resource.URI == "" {
		return fmt.Errorf("resource uri is required")
	}
	if reader == nil {
		return fmt.Errorf("resource %s: reader is required", resource.URI)
	}
	s.resources.Put(resource.URI, resource)
	s.readers.Store(resource.URI, reader)
	s.signaler.Signal(string(KindResources))
	return nil
}

// UnregisterResource removes a resource.
func (s *Store) UnregisterResource(uri string) {
	if s.resources.Delete(uri) {
		s.readers.Delete(uri)
		s.signaler.Signal(string(KindResources))
	}
}

// Resource returns a resource definition by URI.
func (s *Store) Resource(uri string) (*protocol.Resource, bool) {
	return s.resources.Get(uri)
}

// Resources returns all resources in registration order.
func (s *Store) Resources() []*protocol.Resource {
	return s.resources.List()
}

// ReadResource reads a resource's contents. An unknown URI is
// InvalidParams.
func (s *Store) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	if _, ok := s.resources.Get(uri); !ok {
		return nil, protocol.NewError(protocol.ErrCodeInvalidParams, fmt.Sprintf("unknown resource: %s", uri))
	}
	value, ok := s.readers.Load(uri)
	if !ok {
		return nil, protocol.NewError(protocol.ErrCodeInternalError, fmt.Sprintf("resource %s has no reader", uri))
	}
	return value.(ResourceReader)(ctx)
}

// RegisterResourceTemplate registers a resource template.
func (s *Store) RegisterResourceTemplate(tmpl *protocol.ResourceTemplate) error {
	if tmpl.URITemplate == "" {
		return fmt.Errorf("resource template uriTemplate is required")
	}
	s.templates.Put(tmpl.URITemplate, tmpl)
	s.signaler.Signal(string(KindResources))
	return nil
}

// ResourceTemplates returns all templates in registration order.
func (s *Store) ResourceTemplates() []*protocol.ResourceTemplate {
	return s.templates.List()
}
