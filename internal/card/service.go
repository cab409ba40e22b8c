package card

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/cardsnap/internal/capture"
	"github.com/zombor/cardsnap/internal/contact"
	"github.com/zombor/cardsnap/internal/scanning"
	"github.com/zombor/cardsnap/internal/vcard"
)

// ErrSessionNotFound is returned for unknown session ids
var ErrSessionNotFound = errors.New("session not found")

// IDGenerator generates unique IDs for sessions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service creates and tracks capture sessions
type Service struct {
	device      capture.Device
	extractor   scanning.Extractor
	reconciler  contact.Reconciler
	serializer  vcard.Serializer
	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService creates a new Service with default ID generator and time source.
// device may be nil when no camera is configured.
func NewService(device capture.Device, extractor scanning.Extractor, reconciler contact.Reconciler, serializer vcard.Serializer) *Service {
	return NewServiceWithDeps(device, extractor, reconciler, serializer, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(device capture.Device, extractor scanning.Extractor, reconciler contact.Reconciler, serializer vcard.Serializer, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		device:      device,
		extractor:   extractor,
		reconciler:  reconciler,
		serializer:  serializer,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*Session),
	}
}

// CreateSession starts a new session and requests the camera for it
func (s *Service) CreateSession(ctx context.Context) *Session {
	now := s.timeSource.Now()
	session := &Session{
		id:          s.idGenerator.Generate(),
		camera:      capture.NewSource(s.device),
		extractor:   s.extractor,
		reconciler:  s.reconciler,
		store:       contact.NewStore(),
		serializer:  s.serializer,
		timeSource:  s.timeSource,
		cameraState: CameraPending,
		createdAt:   now,
		updatedAt:   now,
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	session.Open(ctx)
	slog.Info("Session created", "session", session.id, "camera", session.State().Camera)
	return session
}

// GetSession returns a session by ID
func (s *Service) GetSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// CloseSession releases a session's camera and forgets it
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.Close()
	slog.Info("Session closed", "session", id)
	return nil
}

// CloseIdle closes sessions that have not been touched for maxIdle and
// returns how many were closed
func (s *Service) CloseIdle(maxIdle time.Duration) int {
	cutoff := s.timeSource.Now().Add(-maxIdle)

	s.mu.Lock()
	var idle []*Session
	for id, session := range s.sessions {
		state := session.State()
		if !state.Loading && state.UpdatedAt.Before(cutoff) {
			idle = append(idle, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range idle {
		session.Close()
	}
	if len(idle) > 0 {
		slog.Info("Closed idle sessions", "count", len(idle))
	}
	return len(idle)
}

// Close closes every session and the extractor
func (s *Service) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	return s.extractor.Close()
}
