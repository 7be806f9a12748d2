// Package capture implements the Capture Worker (C5, §4.5): a hybrid
// event+heartbeat loop that samples the foreground window, deduplicates by
// perceptual hash and extracted-text hash, and persists accepted frames.
// The debounce/coalesce shape is ported from the teacher's fsnotify-backed
// watcher loop (internal/watcher/watcher.go): a mutex-guarded pending flag
// plus a single reset-on-event timer, generalized from "debounce file
// writes before reindexing" to "debounce foreground-window-change events
// before capturing".
package capture

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/False-Maker/memflow/internal/config"
	"github.com/False-Maker/memflow/internal/phash"
	"github.com/False-Maker/memflow/internal/store"
	"github.com/False-Maker/memflow/internal/textextract"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	debounceWindow  = 500 * time.Millisecond
	heartbeatMin    = 10 * time.Second
	heartbeatMax    = 60 * time.Second
	heartbeatStep   = 5 * time.Second
)

// ForegroundInfo is the host capability that reports the current foreground
// window; part of the runtime context the host provides.
type ForegroundInfo interface {
	Foreground(ctx context.Context) (appName, windowTitle, appPath string, windowHandle uintptr, err error)
}

// Monitor describes one display's capture region.
type Monitor struct {
	OriginX, OriginY int
	Image            image.Image
}

// ScreenCapturer enumerates monitors and captures each region; a host
// backend may capture monitors concurrently internally, but this package
// also fans the per-monitor Capture calls out itself when given multiple
// monitors (§4.5 step 5: "capture each monitor in parallel").
type ScreenCapturer interface {
	Monitors(ctx context.Context) ([]MonitorSpec, error)
	Capture(ctx context.Context, m MonitorSpec) (image.Image, error)
}

// MonitorSpec is one monitor's geometry, used to position its capture on
// the composited canvas.
type MonitorSpec struct {
	OriginX, OriginY, Width, Height int
}

// EventSource delivers foreground-window-change notifications. Backends
// push onto Events(); Capture reads and debounces internally.
type EventSource interface {
	Events() <-chan struct{}
}

// Gates bundles the policy/privacy/blocklist checks from §4.5 steps 1 and 3.
type Gates struct {
	PrivacyModeOn     func() bool
	PrivacyDeadline    func() (deadline int64, set bool)
	DisablePrivacyMode func()
	BlocklistEnabled   func() bool
	BlocklistMode      func() string // "blocklist" | "allowlist"
	InBlocklist        func(normalizedAppName string) bool
}

// Publisher is the subset of runtimectx.EventPublisher the capture loop
// uses to announce new activity.
type Publisher interface {
	PublishEvent(name string, payload any)
}

// Worker runs the capture-and-save loop described in §4.5.
type Worker struct {
	db         *store.DB
	foreground ForegroundInfo
	capturer   ScreenCapturer
	events     EventSource
	gates      Gates
	pub        Publisher
	extractor  textextract.Backend
	logger     *zap.Logger
	ocrEnabled func() bool

	heartbeat    time.Duration
	heartbeatCap time.Duration // configured recording-interval ceiling, clamped to [heartbeatMin, heartbeatMax]

	mu           sync.Mutex
	lastPHash    string
	havePHash    bool
	lastTextHash uint64
	haveTextHash bool

	debounceMu sync.Mutex
	pending    bool
	timer      *time.Timer
	wake       chan struct{}

	recording func() bool
}

// NewWorker constructs a capture Worker with the heartbeat seeded at the
// configured recording interval (clamped to [10s, 60s]).
func NewWorker(db *store.DB, fg ForegroundInfo, capturer ScreenCapturer, events EventSource, gates Gates, pub Publisher, extractor textextract.Backend, ocrEnabled func() bool, recording func() bool, intervalMS int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hb := time.Duration(intervalMS) * time.Millisecond
	if hb < heartbeatMin {
		hb = heartbeatMin
	}
	if hb > heartbeatMax {
		hb = heartbeatMax
	}
	return &Worker{
		db: db, foreground: fg, capturer: capturer, events: events, gates: gates,
		pub: pub, extractor: extractor, logger: logger, ocrEnabled: ocrEnabled,
		recording: recording, heartbeat: hb, heartbeatCap: hb, wake: make(chan struct{}, 1),
	}
}

// Run drives the hybrid event+heartbeat loop until ctx is cancelled. The
// loop keeps running even when recording is off; each wake checks the flag
// and exits the capture-and-save call early.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	var eventsCh <-chan struct{}
	if w.events != nil {
		eventsCh = w.events.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-eventsCh:
			w.debounce(ctx, ticker)
		case <-ticker.C:
			w.wakeOnce(ctx, ticker)
		}
	}
}

// debounce coalesces bursts of events within debounceWindow into a single
// capture attempt, mirroring the teacher's timer-reset pattern.
func (w *Worker) debounce(ctx context.Context, ticker *time.Ticker) {
	w.debounceMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, func() {
		w.wakeOnce(ctx, ticker)
	})
	w.debounceMu.Unlock()
}

func (w *Worker) wakeOnce(ctx context.Context, ticker *time.Ticker) {
	if !w.recording() {
		return
	}
	accepted, skipReason := w.captureAndSave(ctx)
	w.adjustHeartbeat(accepted, ticker)
	if skipReason != "" {
		w.db.IncrementSkip(skipReason)
	}
}

func (w *Worker) adjustHeartbeat(accepted bool, ticker *time.Ticker) {
	if accepted {
		w.heartbeat -= heartbeatStep
	} else {
		w.heartbeat += heartbeatStep
	}
	if w.heartbeat < heartbeatMin {
		w.heartbeat = heartbeatMin
	}
	// The growth ceiling is the configured recording interval (itself
	// clamped to heartbeatMax at construction), not heartbeatMax directly,
	// per §4.5: "Ceiling also clamped to the configured recording interval."
	if w.heartbeat > w.heartbeatCap {
		w.heartbeat = w.heartbeatCap
	}
	ticker.Reset(w.heartbeat)
}

// captureAndSave runs the fallible pipeline from §4.5 steps 1-10. Returns
// whether a frame was accepted and, if not, the skip reason (empty if the
// call failed for a non-skip reason that was already logged).
func (w *Worker) captureAndSave(ctx context.Context) (accepted bool, skipReason string) {
	if w.gates.PrivacyModeOn != nil && w.gates.PrivacyModeOn() {
		if deadline, set := w.gates.PrivacyDeadline(); set && time.Now().Unix() > deadline {
			w.gates.DisablePrivacyMode()
		} else {
			return false, "privacy_mode"
		}
	}

	appName, windowTitle, appPath, windowHandle, err := w.foreground.Foreground(ctx)
	if err != nil {
		w.logger.Warn("foreground info failed", zap.Error(err))
		return false, ""
	}

	if w.gates.BlocklistEnabled != nil && w.gates.BlocklistEnabled() {
		normalized := normalizeAppName(appName)
		mode := w.gates.BlocklistMode()
		inList := w.gates.InBlocklist(normalized)
		switch mode {
		case "blocklist":
			if inList {
				return false, "blocklist"
			}
		case "allowlist":
			if !inList {
				return false, "allowlist_miss"
			}
		}
	}

	extractedText := textextract.Extract(ctx, w.extractor, windowHandle)

	composite, err := w.captureComposite(ctx)
	if err != nil {
		w.logger.Warn("screen capture failed", zap.Error(err))
		return false, ""
	}

	encodedHash, webpData := encodeAndHash(composite)
	textHash, haveText := textHashOf(extractedText)

	visualChanged, textChanged := w.dedupCheck(encodedHash, textHash, haveText)
	if !visualChanged && !textChanged {
		return false, "duplicate_frame"
	}

	capturedAt := time.Now().Unix()

	imagePath, err := w.persist(capturedAt, webpData, encodedHash)
	if err != nil {
		w.logger.Error("persist frame failed", zap.Error(err))
		return false, ""
	}

	activityID, err := w.insertActivity(capturedAt, imagePath, appName, windowTitle, appPath, encodedHash)
	if err != nil {
		w.logger.Error("insert activity failed", zap.Error(err))
		return false, ""
	}

	if haveText {
		_ = w.db.UpdateActivityText(activityID, extractedText)
		w.pub.PublishEvent("text-ready", map[string]any{"activity_id": activityID})
	} else if w.ocrEnabled != nil && w.ocrEnabled() {
		if err := w.db.EnqueueOCR(activityID); err != nil {
			w.logger.Warn("enqueue ocr failed", zap.Error(err))
		}
	}

	w.mu.Lock()
	w.lastPHash = encodedHash
	w.havePHash = true
	w.lastTextHash = textHash
	w.haveTextHash = haveText
	w.mu.Unlock()

	w.pub.PublishEvent("new-activity", map[string]any{"activity_id": activityID})
	return true, ""
}

// captureComposite enumerates monitors, captures each in parallel, and
// composites onto a single RGBA canvas per §4.5 step 5. Single-monitor
// input short-circuits compositing.
func (w *Worker) captureComposite(ctx context.Context) (image.Image, error) {
	specs, err := w.capturer.Monitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate monitors: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no monitors reported")
	}
	if len(specs) == 1 {
		return w.capturer.Capture(ctx, specs[0])
	}

	images := make([]image.Image, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			img, err := w.capturer.Capture(gctx, spec)
			if err != nil {
				return fmt.Errorf("capture monitor %d: %w", i, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	minX, minY, maxX, maxY := specs[0].OriginX, specs[0].OriginY, specs[0].OriginX+specs[0].Width, specs[0].OriginY+specs[0].Height
	for _, s := range specs[1:] {
		if s.OriginX < minX {
			minX = s.OriginX
		}
		if s.OriginY < minY {
			minY = s.OriginY
		}
		if s.OriginX+s.Width > maxX {
			maxX = s.OriginX + s.Width
		}
		if s.OriginY+s.Height > maxY {
			maxY = s.OriginY + s.Height
		}
	}

	canvas := image.NewRGBA(image.Rect(0, 0, maxX-minX, maxY-minY))
	for i, spec := range specs {
		if images[i] == nil {
			continue
		}
		dstRect := image.Rect(spec.OriginX-minX, spec.OriginY-minY, spec.OriginX-minX+spec.Width, spec.OriginY-minY+spec.Height)
		draw.Draw(canvas, dstRect, images[i], image.Point{}, draw.Src)
	}
	return canvas, nil
}

func encodeAndHash(img image.Image) (hashHex string, webpData []byte) {
	h := phash.Hash(img)
	hashHex = phash.Encode(h)
	// WebP encoding is a CPU-bound blocking-pool operation per §4.5 step 6;
	// the actual codec call is a host capability (golang.org/x/image has no
	// WebP encoder), so the byte payload here is produced by whatever
	// encoder the host wires in via EncodeWebP below in production builds.
	webpData = EncodeWebP(img)
	return hashHex, webpData
}

// EncodeWebP is overridable so a host can plug in a real WebP-q80 encoder
// (e.g. via cgo libwebp); no pure-Go WebP encoder exists anywhere in the
// pack's dependency surface. The default below is NOT an encoder -- it is a
// deliberately honest no-op that encodes nothing and returns an empty byte
// slice, so a host that forgets to assign EncodeWebP gets visibly empty
// screenshot files on disk rather than a silently-wrong image. Production
// hosts must set capture.EncodeWebP to a real implementation before
// starting the capture worker.
var EncodeWebP = func(img image.Image) []byte {
	return nil
}

func textHashOf(text string) (hash uint64, ok bool) {
	if text == "" {
		return 0, false
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return h.Sum64(), true
}

// dedupCheck implements §4.5 step 7's dual-dedup rule. When the in-process
// last-phash is unset (a fresh process start has no memory of the previous
// frame), it falls back to the store's most recently persisted phash so a
// duplicate frame right after a restart isn't re-inserted -- mirroring
// original_source's db::find_activity_by_phash cross-restart dedup path
// (ported here as store.FindByPHash).
func (w *Worker) dedupCheck(currentPHashHex string, currentTextHash uint64, haveCurrentText bool) (visualChanged, textChanged bool) {
	w.mu.Lock()
	havePHash := w.havePHash
	lastPHash := w.lastPHash
	haveTextHash := w.haveTextHash
	lastTextHash := w.lastTextHash
	w.mu.Unlock()

	if !havePHash {
		if recent, ok := w.recentPHash(); ok {
			havePHash = true
			lastPHash = recent
		}
	}

	if !havePHash {
		visualChanged = true
	} else {
		lastHash, err := phash.Decode(lastPHash)
		curHash, err2 := phash.Decode(currentPHashHex)
		if err != nil || err2 != nil || phash.Hamming(lastHash, curHash) > phash.DuplicateThreshold {
			visualChanged = true
		}
	}

	if haveCurrentText != haveTextHash {
		textChanged = true
	} else if haveCurrentText && currentTextHash != lastTextHash {
		textChanged = true
	}
	return visualChanged, textChanged
}

// recentPHash consults the store for the most recently captured phash. Only
// called when the in-process last-phash is unset, so it's off the hot path.
func (w *Worker) recentPHash() (string, bool) {
	activities, err := w.db.FindByPHash(1)
	if err != nil || len(activities) == 0 {
		return "", false
	}
	a := activities[0]
	if !a.PHash.Valid || a.PHash.String == "" {
		return "", false
	}
	return a.PHash.String, true
}

func (w *Worker) persist(capturedAt int64, webpData []byte, phashHex string) (string, error) {
	// The uuid suffix guards against a filename collision that the
	// timestamp+phash-prefix alone can't: after a restart w.lastPHash
	// resets, so the first frame captured in a second already used by an
	// older run's file would otherwise silently overwrite it. capturedAt is
	// passed in (rather than re-read here) so the filename's timestamp
	// always matches the row's timestamp exactly, per §8's invariant.
	filename := fmt.Sprintf("%d_%s_%s.webp", capturedAt, firstN(phashHex, 16), uuid.NewString()[:8])
	path := filepath.Join(config.ScreenshotsDir(), filename)
	if err := os.WriteFile(path, webpData, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func (w *Worker) insertActivity(capturedAt int64, imagePath, appName, windowTitle, appPath, phashHex string) (int64, error) {
	activity := store.Activity{
		Timestamp:   capturedAt,
		AppName:     appName,
		WindowTitle: windowTitle,
		ImagePath:   imagePath,
		AppPath:     nullableString(appPath),
		PHash:       nullableString(phashHex),
	}
	id, err := w.db.InsertActivity(activity)
	if err == nil {
		return id, nil
	}
	// Any insert error is retried once, as is. Store recovery (§4.1) is not
	// run here: the store runs it only while opening the database, so a
	// corrupted file stays in place and the retry meets the same file.
	id, retryErr := w.db.InsertActivity(activity)
	if retryErr != nil {
		return 0, fmt.Errorf("insert activity (retried once after %v): %w", err, retryErr)
	}
	return id, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func normalizeAppName(appName string) string {
	s := strings.Trim(appName, `"'`)
	s = filepath.Base(s)
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, ".exe")
	return s
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
