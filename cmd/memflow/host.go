// Screen capture and UI-automation OS bindings are external collaborators
// per the spec (capability interfaces: capture panorama, read foreground
// window text, listen for foreground-window change). headlessHost below
// is the default host wired by `memflow serve` on a platform without a
// native binding registered: it satisfies every capability interface the
// core pipeline needs but degrades each one honestly (no monitors, no
// extracted text, no change events) instead of faking activity.
package main

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/False-Maker/memflow/internal/capture"
	"github.com/False-Maker/memflow/internal/runtimectx"
	"github.com/False-Maker/memflow/internal/textextract"
)

// headlessHost implements runtimectx.Context, capture.ForegroundInfo,
// capture.ScreenCapturer, capture.EventSource, and textextract.Backend. A
// real desktop host replaces this with platform bindings (Win32 UIAutomation,
// macOS Accessibility API, X11/Wayland capture, ...); none of those are in
// scope here per the spec's external-collaborator boundary.
type headlessHost struct {
	appDataDir  string
	resourceDir string
	logger      *zap.Logger
}

func newHeadlessHost(appDataDir, resourceDir string, logger *zap.Logger) *headlessHost {
	return &headlessHost{appDataDir: appDataDir, resourceDir: resourceDir, logger: logger}
}

func (h *headlessHost) AppDataDir() string  { return h.appDataDir }
func (h *headlessHost) ResourceDir() string { return h.resourceDir }

func (h *headlessHost) PublishEvent(name string, payload any) {
	h.logger.Debug("event", zap.String("name", name), zap.Any("payload", payload))
}

// AnalyzeContext degrades to an error so callers (the proactive-context
// trigger) fall back to their own rule-based behavior; this host has no
// independent LLM wiring beyond what cmd/memflow's own llm.Client already
// provides to the agent/scheduler packages directly.
func (h *headlessHost) AnalyzeContext(_ context.Context, _ string, _ int) ([]runtimectx.Task, error) {
	return nil, fmt.Errorf("analyze-context: no host capability registered")
}

// Foreground implements capture.ForegroundInfo. Without a platform binding
// there is no foreground window to read; Run's wake handler logs and skips
// the tick (no insert, no skip-reason increment, since this isn't a policy
// skip -- it's the absence of a capability).
func (h *headlessHost) Foreground(_ context.Context) (appName, windowTitle, appPath string, windowHandle uintptr, err error) {
	return "", "", "", 0, fmt.Errorf("no foreground-window capability registered for this platform")
}

// Monitors implements capture.ScreenCapturer.
func (h *headlessHost) Monitors(_ context.Context) ([]capture.MonitorSpec, error) {
	return nil, fmt.Errorf("no screen-capture capability registered for this platform")
}

// Capture implements capture.ScreenCapturer.
func (h *headlessHost) Capture(_ context.Context, _ capture.MonitorSpec) (image.Image, error) {
	return nil, fmt.Errorf("no screen-capture capability registered for this platform")
}

// Events implements capture.EventSource: a nil channel, so capture.Worker's
// select simply never receives from it and relies on the heartbeat alone.
func (h *headlessHost) Events() <-chan struct{} {
	return nil
}

// Init implements textextract.Backend.
func (h *headlessHost) Init(_ context.Context) (func(), error) {
	return func() {}, fmt.Errorf("no UI-automation capability registered for this platform")
}

// Root implements textextract.Backend.
func (h *headlessHost) Root(_ context.Context, _ uintptr) (textextract.Node, bool) {
	return textextract.Node{}, false
}
