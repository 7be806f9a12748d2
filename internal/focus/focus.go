// Package focus implements Focus Analytics (§4.9): a once-per-second input
// accumulator that rolls up into 60-second buckets, scoring attention via a
// weighted blend of activity-pace and window-switch stability. Grounded on
// the teacher's ticker-driven accumulator shape in internal/hooks
// (periodic flush of an in-memory counter into storage), generalized from
// hook-event counting to keyboard/mouse/window-switch counting.
package focus

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/False-Maker/memflow/internal/store"
	"go.uber.org/zap"
)

// productivityKeywords flags window titles/app names associated with
// focused work; a switch into one of these is weighted lower than a switch
// into anything else (§4.9).
var productivityKeywords = []string{
	"code", "vim", "terminal", "docs", "sheet", "excel", "word",
	"notion", "obsidian", "jira", "github", "gitlab", "slack-thread",
}

const (
	productiveSwitchWeight  = 0.3
	distractionSwitchWeight = 1.0
	bucketDuration          = 60 * time.Second
)

// Tracker accumulates per-second input samples into 60-second buckets and
// persists a FocusMetric for each closed bucket.
type Tracker struct {
	db     *store.DB
	logger *zap.Logger

	mu              sync.Mutex
	keyPresses      int
	mouseDistance   float64
	weightedSwitch  float64
	lastApp         string
	lastTitle       string
	lastSwitchAt    time.Time
	bucketStart     time.Time
}

// New constructs a Tracker. logger may be nil, in which case a no-op
// logger is used.
func New(db *store.DB, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{db: db, logger: logger, bucketStart: time.Now()}
}

// RecordInput registers one second's worth of keyboard/mouse activity.
// Safe to call from the input-hook callback goroutine.
func (t *Tracker) RecordInput(keyPresses int, mouseDistancePx float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyPresses += keyPresses
	t.mouseDistance += mouseDistancePx
}

// RecordWindowSwitch registers a foreground-window change. Weighted by
// whether the destination app/title looks like productive work.
func (t *Tracker) RecordWindowSwitch(appName, windowTitle string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if appName == t.lastApp && windowTitle == t.lastTitle {
		return
	}
	t.lastApp = appName
	t.lastTitle = windowTitle
	t.lastSwitchAt = time.Now()

	if looksProductive(appName, windowTitle) {
		t.weightedSwitch += productiveSwitchWeight
	} else {
		t.weightedSwitch += distractionSwitchWeight
	}
}

func looksProductive(appName, windowTitle string) bool {
	haystack := strings.ToLower(appName + " " + windowTitle)
	for _, kw := range productivityKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// Run ticks once per second, rolling accumulated samples into a
// FocusMetric every 60 seconds, until ctx is cancelled. Each tick is
// recovered individually so a transient panic never kills the loop.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.flush()
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Tracker) tick() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("focus tracker tick panicked", zap.Any("recover", r))
		}
	}()

	t.mu.Lock()
	elapsed := time.Since(t.bucketStart)
	shouldFlush := elapsed >= bucketDuration
	t.mu.Unlock()

	if shouldFlush {
		t.flush()
	}
}

func (t *Tracker) flush() {
	t.mu.Lock()
	keyPresses := t.keyPresses
	mouseDistance := t.mouseDistance
	weightedSwitch := t.weightedSwitch
	bucketStart := t.bucketStart

	t.keyPresses = 0
	t.mouseDistance = 0
	t.weightedSwitch = 0
	t.bucketStart = time.Now()
	t.mu.Unlock()

	metric := Score(keyPresses, mouseDistance, weightedSwitch)
	metric.Timestamp = bucketStart.Unix()

	if t.db == nil {
		return
	}
	if err := t.db.InsertFocusMetric(store.FocusMetric{
		Timestamp:         metric.Timestamp,
		APM:               metric.APM,
		WindowSwitchCount: metric.WindowSwitchCount,
		FocusScore:        metric.FocusScore,
	}); err != nil {
		t.logger.Warn("failed to persist focus metric", zap.Error(err))
	}
}

// Metric is the scored result of one bucket, before timestamping.
type Metric struct {
	Timestamp         int64
	APM               int
	WindowSwitchCount int
	FocusScore        float64
}

// Score computes the focus metric for one 60-second bucket, per §4.9:
//
//	apm = key_presses + round(mouse_distance / 500), clamped to int32 range
//	apm_score: piecewise-linear ramp, saturating at 100
//	stability_score = max(0, 100 - 8*weighted_switches)
//	focus_score = clamp(0.6*apm_score + 0.4*stability_score, 0, 100)
func Score(keyPresses int, mouseDistance float64, weightedSwitches float64) Metric {
	apm := keyPresses + int(math.Round(mouseDistance/500))
	if apm < 0 {
		apm = 0
	}
	const int32Max = math.MaxInt32
	if apm > int32Max {
		apm = int32Max
	}

	apmScore := apmCurve(apm)

	stabilityScore := 100 - 8*weightedSwitches
	if stabilityScore < 0 {
		stabilityScore = 0
	}

	focusScore := 0.6*apmScore + 0.4*stabilityScore
	focusScore = clamp(focusScore, 0, 100)

	return Metric{
		APM:               apm,
		WindowSwitchCount: int(math.Round(weightedSwitches)),
		FocusScore:        focusScore,
	}
}

// apmCurve is piecewise-linear per §4.9: 0-60 apm scales 0->50, 60-120
// scales 50->100, saturating at 100 from 120 apm up.
func apmCurve(apm int) float64 {
	switch {
	case apm <= 0:
		return 0
	case apm < 60:
		return float64(apm) / 60 * 50
	case apm < 120:
		return 50 + float64(apm-60)/60*50
	default:
		return 100
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
