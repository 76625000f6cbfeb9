// Package session owns the lifecycle of anonymous demo sessions: creation,
// lookup with lazy expiry, document binding, the question counter and
// eviction bookkeeping for the reaper.
package session

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"

	"legaldemo/internal/models"
)

var (
	// ErrNotFound is returned for unknown, deleted or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyBound is returned when a session already holds a document.
	ErrAlreadyBound = errors.New("session already has a document")
	// ErrAllocation is returned when no unique session id could be generated.
	ErrAllocation = errors.New("could not allocate session id")
)

// Store is the single source of truth for demo session state.
// Every read path treats sessions past their expiry as absent.
type Store interface {
	Create(ctx context.Context) (*models.DemoSession, error)
	Get(ctx context.Context, id string) (*models.DemoSession, error)
	BindDocument(ctx context.Context, id string, binding models.DocumentBinding) error
	AppendMessage(ctx context.Context, id string, role models.Role, content string) error
	// IncrementIfAllowed atomically consumes one question if the ceiling allows it.
	IncrementIfAllowed(ctx context.Context, id string) (allowed bool, remaining int, err error)
	// Delete removes the session regardless of expiry and returns the bound document id, if any.
	Delete(ctx context.Context, id string) (documentID string, err error)
	// ListExpired yields sessions whose expiry is at or before asOf. Each
	// call to the returned sequence restarts the scan.
	ListExpired(ctx context.Context, asOf time.Time) iter.Seq2[models.ExpiredSession, error]
}

const (
	defaultTTL        = 30 * time.Minute
	defaultLimit      = 5
	maxCreateAttempts = 5
)

type settings struct {
	ttl   time.Duration
	limit int
	now   func() time.Time
	newID func() (string, error)
}

// Option customizes a store.
type Option func(*settings)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithQuestionLimit sets the per-session question ceiling.
func WithQuestionLimit(limit int) Option {
	return func(s *settings) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the random session id generator.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *settings) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		ttl:   defaultTTL,
		limit: defaultLimit,
		now:   time.Now,
		newID: randomID,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) clock() time.Time {
	return s.now().UTC()
}

func (s settings) newSession(id string) *models.DemoSession {
	now := s.clock()
	return &models.DemoSession{
		ID:             id,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
		QuestionsLimit: s.limit,
		Messages:       []models.Message{},
	}
}

// randomID returns a version 4 UUID (122 random bits).
func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
