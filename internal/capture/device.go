package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"
)

// Device is a camera that can be opened into a live stream
type Device interface {
	// Open acquires the camera. It fails with ErrDeviceUnavailable when the camera
	// is missing or access is denied.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired camera stream
type Stream interface {
	// Frame returns the current frame at the stream's native resolution
	Frame(ctx context.Context) (image.Image, error)

	// Stop stops every track of the stream. Safe to call more than once.
	Stop()
}

// maxFrameSize bounds a single snapshot body
const maxFrameSize = 32 << 20

// SnapshotCamera is a network camera exposing a still-image snapshot URL
// (JPEG or PNG over HTTP), as most IP cameras and phone webcam apps do.
type SnapshotCamera struct {
	url    string
	client *http.Client
}

// NewSnapshotCamera creates a SnapshotCamera. A nil client gets a default one.
func NewSnapshotCamera(url string, client *http.Client) *SnapshotCamera {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SnapshotCamera{
		url:    url,
		client: client,
	}
}

// Open probes the snapshot URL once and returns a stream bound to it
func (c *SnapshotCamera) Open(ctx context.Context) (Stream, error) {
	if _, err := c.snapshot(ctx); err != nil {
		return nil, err
	}
	return &snapshotStream{camera: c}, nil
}

// snapshot fetches and decodes one frame
func (c *SnapshotCamera) snapshot(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid camera url: %w", ErrDeviceUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: permission denied (status %d)", ErrDeviceUnavailable, resp.StatusCode)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: no camera found", ErrDeviceUnavailable)
	default:
		return nil, fmt.Errorf("%w: camera error (status %d)", ErrDeviceUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading frame: %w", ErrDeviceUnavailable, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding frame: %w", ErrDecode, err)
	}
	return img, nil
}

type snapshotStream struct {
	camera *SnapshotCamera

	mu      sync.Mutex
	stopped bool
}

func (s *snapshotStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, fmt.Errorf("%w: stream stopped", ErrDeviceUnavailable)
	}
	return s.camera.snapshot(ctx)
}

func (s *snapshotStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.camera.client.CloseIdleConnections()
}
