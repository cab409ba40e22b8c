package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/cardsnap/internal/capture"
	"github.com/zombor/cardsnap/internal/contact"
	"github.com/zombor/cardsnap/internal/scanning"
	"github.com/zombor/cardsnap/internal/vcard"
)

var (
	// ErrBusy is returned when a capture arrives while an extraction is in flight
	ErrBusy = errors.New("an extraction is already in progress")

	// ErrCanceled is returned when the extraction was canceled and its result discarded
	ErrCanceled = errors.New("extraction canceled")

	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("session closed")
)

// CameraState describes camera availability for a session
type CameraState string

const (
	CameraPending     CameraState = "pending"
	CameraReady       CameraState = "ready"
	CameraUnavailable CameraState = "unavailable"
)

// State is a point-in-time view of a session
type State struct {
	ID            string         `json:"id"`
	Loading       bool           `json:"loading"`
	Camera        CameraState    `json:"camera"`
	CameraMessage string         `json:"camera_message,omitempty"`
	HasPhoto      bool           `json:"has_photo"`
	Contact       contact.Record `json:"contact"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Session is one editing surface: a camera, one extraction at a time,
// and the contact being edited
type Session struct {
	id         string
	camera     *capture.Source
	extractor  scanning.Extractor
	reconciler contact.Reconciler
	store      *contact.Store
	serializer vcard.Serializer
	timeSource TimeSource

	mu          sync.Mutex
	cameraState CameraState
	cameraErr   error
	loading     bool
	generation  uint64
	cancel      context.CancelFunc
	closed      bool
	createdAt   time.Time
	updatedAt   time.Time
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Open requests the camera once. A missing or denied camera is recorded in
// the session state; it is not an error because file capture still works.
func (s *Session) Open(ctx context.Context) {
	err := s.camera.Start(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.cameraState = CameraUnavailable
		s.cameraErr = err
		slog.Warn("Camera unavailable, file upload only", "session", s.id, "error", err)
		return
	}
	s.cameraState = CameraReady
	s.cameraErr = nil
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.store.Get()
	state := State{
		ID:        s.id,
		Loading:   s.loading,
		Camera:    s.cameraState,
		HasPhoto:  record.Photo != nil,
		Contact:   record,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.cameraErr != nil {
		state.CameraMessage = s.cameraErr.Error()
	}
	return state
}

// Contact returns a snapshot of the contact being edited
func (s *Session) Contact() contact.Record {
	return s.store.Get()
}

// CaptureCamera takes a still from the camera and runs extraction on it
func (s *Session) CaptureCamera(ctx context.Context) (contact.Record, error) {
	s.mu.Lock()
	cameraState, cameraErr := s.cameraState, s.cameraErr
	s.mu.Unlock()

	if cameraState != CameraReady {
		if cameraErr != nil {
			return contact.Record{}, cameraErr
		}
		return contact.Record{}, fmt.Errorf("%w: camera not ready", capture.ErrDeviceUnavailable)
	}

	job, err := s.begin(ctx)
	if err != nil {
		return contact.Record{}, err
	}
	defer job.done()

	img, err := s.camera.CaptureStill(job.ctx)
	if err != nil {
		return contact.Record{}, s.failed(job, fmt.Errorf("capturing still: %w", err))
	}
	return s.extract(job, img)
}

// CaptureFile decodes an uploaded file and runs extraction on it
func (s *Session) CaptureFile(ctx context.Context, data []byte, contentType string) (contact.Record, error) {
	job, err := s.begin(ctx)
	if err != nil {
		return contact.Record{}, err
	}
	defer job.done()

	img, err := capture.DecodeFile(data, contentType)
	if err != nil {
		return contact.Record{}, err
	}
	return s.extract(job, img)
}

// CaptureImage runs extraction on an image that is already decoded
func (s *Session) CaptureImage(ctx context.Context, img capture.Image) (contact.Record, error) {
	job, err := s.begin(ctx)
	if err != nil {
		return contact.Record{}, err
	}
	defer job.done()

	return s.extract(job, img)
}

// run tracks the single in-flight extraction
type run struct {
	session    *Session
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
}

// begin claims the in-flight slot; a second caller gets ErrBusy
func (s *Session) begin(ctx context.Context) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.loading {
		return nil, ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.loading = true
	s.generation++
	s.cancel = cancel

	return &run{session: s, ctx: runCtx, cancel: cancel, generation: s.generation}, nil
}

func (r *run) done() {
	r.cancel()

	s := r.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == r.generation {
		s.loading = false
		s.cancel = nil
	}
}

// current reports whether the run is still the one the session is waiting on
func (r *run) current() bool {
	return r.session.generation == r.generation && r.ctx.Err() == nil
}

// failed marks err as ErrCanceled when the run was canceled underneath it
func (s *Session) failed(r *run, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !r.current() {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}

// extract calls the extraction service, reconciles, and replaces the record.
// Nothing is written unless every step succeeds.
func (s *Session) extract(r *run, img capture.Image) (contact.Record, error) {
	result, err := s.extractor.Extract(r.ctx, img)
	if err != nil {
		return contact.Record{}, s.failed(r, err)
	}

	record, err := s.reconciler.Reconcile(result)
	if err != nil {
		return contact.Record{}, err
	}
	photo := img
	record.Photo = &photo

	s.mu.Lock()
	defer s.mu.Unlock()
	if !r.current() {
		slog.Info("Discarding stale extraction result", "session", s.id)
		return contact.Record{}, ErrCanceled
	}
	s.store.ReplaceAll(record)
	s.updatedAt = s.timeSource.Now()
	return record, nil
}

// Cancel cancels the in-flight extraction, if any. A response that arrives
// afterwards is discarded. Returns whether anything was canceled.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *Session) cancelLocked() bool {
	if !s.loading {
		return false
	}
	s.cancel()
	// a new generation frees the slot and marks the old run stale
	s.generation++
	s.loading = false
	s.cancel = nil
	return true
}

// Edit sets a single contact field
func (s *Session) Edit(field contact.Field, value string) error {
	if err := s.store.Set(field, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.updatedAt = s.timeSource.Now()
	s.mu.Unlock()
	return nil
}

// Export serializes a snapshot of the contact. The form state is untouched
// whether or not it succeeds.
func (s *Session) Export() (vcard.Document, error) {
	doc, err := s.serializer.Serialize(s.store.Get())
	if err != nil {
		slog.Error("Export failed", "session", s.id, "error", err)
		return vcard.Document{}, fmt.Errorf("exporting contact: %w", err)
	}
	return doc, nil
}

// Close cancels any extraction and releases the camera. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelLocked()
	s.mu.Unlock()

	s.camera.Release()
}
