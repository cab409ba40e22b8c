package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Source owns at most one camera stream and turns its frames into Images
type Source struct {
	device Device

	mu     sync.Mutex
	stream Stream
}

// NewSource creates a Source. A nil device means no camera is configured;
// Start then fails with ErrDeviceUnavailable and only files can be captured.
func NewSource(device Device) *Source {
	return &Source{device: device}
}

// Start acquires the camera, stopping any stream that is already active
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()

	if s.device == nil {
		return fmt.Errorf("%w: no camera configured", ErrDeviceUnavailable)
	}

	stream, err := s.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s.stream = stream
	return nil
}

// Active reports whether a stream is currently held
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// CaptureStill rasterizes the current frame as a PNG image
func (s *Source) CaptureStill(ctx context.Context) (Image, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return Image{}, fmt.Errorf("%w: camera not started", ErrDeviceUnavailable)
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("capturing frame: %w", err)
	}

	data, err := encodePNG(frame)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return Image{Subtype: "png", Data: data}, nil
}

// Release stops every track of the active stream. It is a no-op when no
// stream is held, so it may be called on every exit path.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Source) releaseLocked() {
	if s.stream == nil {
		return
	}
	s.stream.Stop()
	s.stream = nil
}
