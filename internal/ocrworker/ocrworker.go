// Package ocrworker drains the OCR queue: it pulls pending (and
// stale-reclaimed) jobs, optionally downscales the source frame, calls an
// external OCR capability, and writes the recognized text back onto the
// activity row, per §4.6.
package ocrworker

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // registers "webp" with image.Decode for preprocessing
	"golang.org/x/sync/semaphore"

	"github.com/sony/gobreaker"

	"github.com/False-Maker/memflow/internal/redact"
	"github.com/False-Maker/memflow/internal/store"
)

// pollInterval is the consumer task's fallback tick; it also wakes early on
// a notification from the capture worker (C5).
const pollInterval = 5 * time.Second

// fetchSize is how many queue entries are pulled per iteration.
const fetchSize = 10

// workerConcurrency bounds the worker pool, per §4.6.
const workerConcurrency = 2

// Capability is the external OCR backend. Implementations typically shell
// out to a local OCR binary or call a hosted OCR HTTP endpoint.
type Capability interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Config holds the tunable preprocessing parameters from §3's option table.
type Config struct {
	PreprocessEnabled   bool
	PreprocessMaxWidth  int
	PreprocessMaxPixels int
	RedactionEnabled    bool
	RedactionLevel      redact.Level
}

// Worker drains the OCR queue on a timer, fanning each job out to a bounded
// pool of goroutines via a semaphore, mirroring the capture worker's
// errgroup-per-monitor shape but for a pull-based queue instead.
type Worker struct {
	db         *store.DB
	ocr        Capability
	cfg        Config
	logger     *zap.Logger
	sem        *semaphore.Weighted
	breaker    *gobreaker.CircuitBreaker
	wake       chan struct{}
	enabled    func() bool
}

// New constructs an OCR Worker. enabled gates whether the queue is drained
// at all (mirrors config's ocr.enabled).
func New(db *store.DB, ocr Capability, cfg Config, enabled func() bool, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ocr-capability",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ocr circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Worker{
		db:      db,
		ocr:     ocr,
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(workerConcurrency),
		breaker: breaker,
		wake:    make(chan struct{}, 1),
		enabled: enabled,
	}
}

// Notify wakes the consumer loop early, e.g. right after C5 enqueues a job,
// instead of waiting out the rest of the 5s tick.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drives the consumer loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if w.enabled != nil && !w.enabled() {
		return
	}
	jobs, err := w.db.PollOCRJobs(fetchSize)
	if err != nil {
		w.logger.Error("poll ocr jobs failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		job := job
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return // ctx cancelled
		}
		go func() {
			defer w.sem.Release(1)
			w.processJob(ctx, job)
		}()
	}
}

func (w *Worker) processJob(ctx context.Context, job store.OCRQueueEntry) {
	if err := w.db.MarkOCRProcessing(job.ID); err != nil {
		w.logger.Error("mark ocr processing failed", zap.Error(err), zap.Int64("activity_id", job.ActivityID))
		return
	}

	activity, err := w.db.GetActivity(job.ActivityID)
	if err != nil {
		w.failJob(job, fmt.Errorf("load activity: %w", err))
		return
	}

	imagePath := activity.ImagePath
	if w.cfg.PreprocessEnabled {
		downscaled, cleanup, perr := w.preprocess(imagePath)
		if perr != nil {
			w.logger.Warn("ocr preprocess failed, using original", zap.Error(perr), zap.Int64("activity_id", job.ActivityID))
		} else if downscaled != "" {
			imagePath = downscaled
			defer cleanup()
		}
	}

	text, err := w.recognize(ctx, imagePath)
	if err != nil {
		w.failJob(job, err)
		return
	}

	if w.cfg.RedactionEnabled {
		text = redact.Text(text, w.cfg.RedactionLevel)
	}

	if err := w.db.UpdateActivityText(job.ActivityID, text); err != nil {
		w.failJob(job, fmt.Errorf("update activity text: %w", err))
		return
	}
	if err := w.db.MarkOCRDone(job.ID); err != nil {
		w.logger.Error("mark ocr done failed", zap.Error(err), zap.Int64("activity_id", job.ActivityID))
	}
}

func (w *Worker) failJob(job store.OCRQueueEntry, cause error) {
	w.logger.Warn("ocr job failed", zap.Error(cause), zap.Int64("activity_id", job.ActivityID), zap.Int("retry_count", job.RetryCount))
	if err := w.db.MarkOCRFailure(job.ID, cause.Error()); err != nil {
		w.logger.Error("mark ocr failure failed", zap.Error(err), zap.Int64("activity_id", job.ActivityID))
	}
}

// recognize invokes the external OCR capability through the circuit
// breaker, so repeated provider failures trip fast instead of retrying on
// every job.
func (w *Worker) recognize(ctx context.Context, imagePath string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := w.breaker.Execute(func() (interface{}, error) {
		return w.ocr.Recognize(callCtx, imagePath)
	})
	if err != nil {
		return "", fmt.Errorf("ocr recognize: %w", err)
	}
	text, _ := result.(string)
	return text, nil
}

// preprocess downscales imagePath via a triangle filter to the configured
// max width (preserving aspect) when the source exceeds the width or pixel
// cap. Returns the temp file path and a cleanup func; cleanup is always
// safe to call even if preprocessing was skipped.
func (w *Worker) preprocess(imagePath string) (string, func(), error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", func() {}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return "", func() {}, fmt.Errorf("decode config: %w", err)
	}
	pixels := cfg.Width * cfg.Height
	if cfg.Width <= w.cfg.PreprocessMaxWidth && pixels <= w.cfg.PreprocessMaxPixels {
		return "", func() {}, nil
	}

	if _, err := f.Seek(0, 0); err != nil {
		return "", func() {}, fmt.Errorf("seek image: %w", err)
	}
	src, _, err := image.Decode(f)
	if err != nil {
		return "", func() {}, fmt.Errorf("decode image: %w", err)
	}

	targetW := w.cfg.PreprocessMaxWidth
	targetH := int(float64(src.Bounds().Dy()) * float64(targetW) / float64(src.Bounds().Dx()))
	if targetH < 1 {
		targetH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	tmp, err := os.CreateTemp(filepath.Dir(imagePath), "ocr-pre-*.png")
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if err := png.Encode(tmp, dst); err != nil {
		tmp.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("encode temp png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), cleanup, nil
}
