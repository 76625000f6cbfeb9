package session

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"legaldemo/internal/models"
)

type entry struct {
	mu      sync.Mutex
	session *models.DemoSession
}

// MemoryStore keeps sessions in a process-local map. Mutations of one
// session are serialized by its entry lock; Delete takes the map lock
// exclusively so it never races an in-flight mutation.
type MemoryStore struct {
	settings
	mu       sync.RWMutex
	sessions map[string]*entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		settings: newSettings(opts),
		sessions: make(map[string]*entry),
	}
}

func (m *MemoryStore) Create(ctx context.Context) (*models.DemoSession, error) {
	for i := 0; i < maxCreateAttempts; i++ {
		id, err := m.newID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
		}
		se := m.newSession(id)
		m.mu.Lock()
		if _, exists := m.sessions[id]; exists {
			m.mu.Unlock()
			continue
		}
		m.sessions[id] = &entry{session: se}
		m.mu.Unlock()
		return se.Clone(), nil
	}
	return nil, ErrAllocation
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.DemoSession, error) {
	var out *models.DemoSession
	err := m.withSession(id, func(se *models.DemoSession) error {
		out = se.Clone()
		return nil
	})
	return out, err
}

func (m *MemoryStore) BindDocument(ctx context.Context, id string, binding models.DocumentBinding) error {
	return m.withSession(id, func(se *models.DemoSession) error {
		if se.HasDocument() {
			return ErrAlreadyBound
		}
		se.DocumentID = binding.DocumentID
		se.ExtractedText = binding.ExtractedText
		se.Summary = append([]string(nil), binding.Summary...)
		return nil
	})
}

func (m *MemoryStore) AppendMessage(ctx context.Context, id string, role models.Role, content string) error {
	return m.withSession(id, func(se *models.DemoSession) error {
		se.Messages = append(se.Messages, models.Message{
			Role:      role,
			Content:   content,
			CreatedAt: m.clock(),
		})
		return nil
	})
}

func (m *MemoryStore) IncrementIfAllowed(ctx context.Context, id string) (bool, int, error) {
	var (
		allowed   bool
		remaining int
	)
	err := m.withSession(id, func(se *models.DemoSession) error {
		if se.QuestionsAsked >= se.QuestionsLimit {
			return nil
		}
		se.QuestionsAsked++
		allowed = true
		remaining = se.Remaining()
		return nil
	})
	return allowed, remaining, err
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	delete(m.sessions, id)
	return e.session.DocumentID, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, asOf time.Time) iter.Seq2[models.ExpiredSession, error] {
	return func(yield func(models.ExpiredSession, error) bool) {
		m.mu.RLock()
		expired := make([]models.ExpiredSession, 0)
		for id, e := range m.sessions {
			e.mu.Lock()
			if !e.session.ExpiresAt.After(asOf) {
				expired = append(expired, models.ExpiredSession{SessionID: id, DocumentID: e.session.DocumentID})
			}
			e.mu.Unlock()
		}
		m.mu.RUnlock()

		sort.Slice(expired, func(i, j int) bool { return expired[i].SessionID < expired[j].SessionID })
		for _, ex := range expired {
			if err := ctx.Err(); err != nil {
				yield(models.ExpiredSession{}, err)
				return
			}
			if !yield(ex, nil) {
				return
			}
		}
	}
}

// Len reports the number of physically present sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// withSession runs fn under the session's entry lock if the session is live.
func (m *MemoryStore) withSession(id string, fn func(se *models.DemoSession) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.ExpiredAt(m.clock()) {
		return ErrNotFound
	}
	return fn(e.session)
}
