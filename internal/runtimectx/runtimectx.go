// Package runtimectx defines the capability surface the core pipeline holds
// to its host, per §4.12. The same pipeline code runs under a GUI host, a
// headless CLI, or a JSON-RPC server by swapping the Context implementation,
// mirroring the teacher's store.DB/config singleton-wiring style: lazy
// package-level init, no DI container.
package runtimectx

import (
	"context"
	"sync"
)

// Task is a unit of work the Agent Engine can propose (one LLM "task" out
// of propose's {tasks: [...]} response, or a proactive suggestion).
type Task struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	RelatedURLs    []string `json:"related_urls,omitempty"`
	RelatedFiles   []string `json:"related_files,omitempty"`
	RelatedApps    []string `json:"related_apps,omitempty"`
}

// EventPublisher fires a named event with an opaque JSON-able payload to
// whatever front-end the host exposes (GUI event bus, SSE stream, log
// line for a headless CLI). Fire-and-forget, per §5 backpressure policy.
type EventPublisher interface {
	PublishEvent(name string, payload any)
}

// ContextAnalyzer turns assembled activity context text into a task list by
// calling out to the chat capability. Returning an error (including
// timeout) signals the caller to fall back to a rule-based proposal.
type ContextAnalyzer interface {
	AnalyzeContext(ctx context.Context, contextText string, timeWindowHours int) ([]Task, error)
}

// Context is the full capability surface: {app-data directory, resource
// directory, publish-event, analyze-context}.
type Context interface {
	EventPublisher
	ContextAnalyzer

	// AppDataDir is the directory owning the database, screenshots, logs,
	// and config.json (see config.DataDir).
	AppDataDir() string

	// ResourceDir holds read-only bundled resources (prompt templates,
	// productivity-app keyword lists) shipped with the binary.
	ResourceDir() string
}

var (
	mu      sync.RWMutex
	current Context
)

// Set installs the process-wide runtime context. Called once during boot;
// never re-created at runtime, matching the process-wide singleton policy
// in §5.
func Set(ctx Context) {
	mu.Lock()
	defer mu.Unlock()
	current = ctx
}

// Get returns the currently installed runtime context, or nil if Set was
// never called (callers should treat a nil Context as "no host capability
// available" and degrade gracefully, e.g. skip publish-event).
func Get() Context {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
