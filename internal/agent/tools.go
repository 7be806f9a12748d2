// Package agent implements the Agent Engine (§4.10): propose, execute, and
// cancel automation proposals derived from activity history. The tool
// registry is ported (not translated) from original_source's Dify-inspired
// Tool trait / ToolRegistry (src-tauri/src/agent/mod.rs,
// crates/memflow-core/src/agent/tools.rs): a capability interface keyed by
// name, dispatched without a step-type switch, letting new steps be added
// by registering a handler instead of touching the executor.
package agent

import (
	"context"
	"fmt"
)

// Tool is one executable step handler, keyed by the AutomationStep's type
// tag in the registry.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]string) error
}

// ToolRegistry maps a step-type tag to its handler.
type ToolRegistry struct {
	tools map[string]Tool
}

// NewToolRegistry builds an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Publisher is the subset of the runtime-context capability interface the
// tool handlers need to perform their effects.
type Publisher interface {
	PublishEvent(name string, payload any)
}

// OpenURLTool opens a URL via the host's default handler, published as an
// event for the host to act on (the actual OS "open" call is a host-side
// capability, mirrored from runtimectx's publish-event contract).
type OpenURLTool struct{ Pub Publisher }

func (t *OpenURLTool) Name() string        { return "open_url" }
func (t *OpenURLTool) Description() string { return "Open a URL in the default browser" }
func (t *OpenURLTool) Execute(_ context.Context, args map[string]string) error {
	url := args["url"]
	if url == "" {
		return fmt.Errorf("AGENT_STEP_NOT_ALLOWED: open_url missing url")
	}
	t.Pub.PublishEvent("open-url", map[string]string{"url": url})
	return nil
}

// OpenFileTool opens a local file path.
type OpenFileTool struct{ Pub Publisher }

func (t *OpenFileTool) Name() string        { return "open_file" }
func (t *OpenFileTool) Description() string { return "Open a local file with its default application" }
func (t *OpenFileTool) Execute(_ context.Context, args map[string]string) error {
	path := args["path"]
	if path == "" {
		return fmt.Errorf("AGENT_STEP_NOT_ALLOWED: open_file missing path")
	}
	t.Pub.PublishEvent("open-file", map[string]string{"path": path})
	return nil
}

// OpenAppTool launches an application by executable path.
type OpenAppTool struct{ Pub Publisher }

func (t *OpenAppTool) Name() string        { return "open_app" }
func (t *OpenAppTool) Description() string { return "Launch an application" }
func (t *OpenAppTool) Execute(_ context.Context, args map[string]string) error {
	path := args["path"]
	if path == "" {
		return fmt.Errorf("AGENT_STEP_NOT_ALLOWED: open_app missing path")
	}
	t.Pub.PublishEvent("open-app", map[string]string{"path": path})
	return nil
}

// CopyToClipboardTool copies text to the system clipboard.
type CopyToClipboardTool struct{ Pub Publisher }

func (t *CopyToClipboardTool) Name() string        { return "copy_to_clipboard" }
func (t *CopyToClipboardTool) Description() string { return "Copy text to the system clipboard" }
func (t *CopyToClipboardTool) Execute(_ context.Context, args map[string]string) error {
	text := args["text"]
	if text == "" {
		return fmt.Errorf("AGENT_STEP_NOT_ALLOWED: copy_to_clipboard missing text")
	}
	t.Pub.PublishEvent("copy-to-clipboard", map[string]string{"text": text})
	return nil
}

// CreateNoteTool persists a note. noteSink abstracts the actual write
// target (file under the notes directory, or a chat-session message).
type CreateNoteTool struct {
	Pub  Publisher
	Sink func(content string) error
}

func (t *CreateNoteTool) Name() string        { return "create_note" }
func (t *CreateNoteTool) Description() string { return "Create a note summarizing recent activity" }
func (t *CreateNoteTool) Execute(_ context.Context, args map[string]string) error {
	content := args["content"]
	if content == "" {
		return fmt.Errorf("AGENT_STEP_NOT_ALLOWED: create_note missing content")
	}
	if t.Sink != nil {
		if err := t.Sink(content); err != nil {
			return err
		}
	}
	t.Pub.PublishEvent("note-created", map[string]string{"content": content})
	return nil
}

// DefaultRegistry builds the registry with all five built-in step handlers
// wired to pub. sink is used by create_note; pass nil to skip persistence
// and only publish the event.
func DefaultRegistry(pub Publisher, sink func(string) error) *ToolRegistry {
	r := NewToolRegistry()
	r.Register(&OpenURLTool{Pub: pub})
	r.Register(&OpenFileTool{Pub: pub})
	r.Register(&OpenAppTool{Pub: pub})
	r.Register(&CopyToClipboardTool{Pub: pub})
	r.Register(&CreateNoteTool{Pub: pub, Sink: sink})
	return r
}
