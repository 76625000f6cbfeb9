package models

import "time"

// DemoSession is one anonymous, time-boxed interaction scoped to a single
// uploaded document and a bounded number of questions.
type DemoSession struct {
	ID             string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	DocumentID     string    `json:"document_id,omitempty"`
	ExtractedText  string    `json:"-"`
	Summary        []string  `json:"summary"`
	QuestionsAsked int       `json:"questions_asked"`
	QuestionsLimit int       `json:"questions_limit"`
	Messages       []Message `json:"messages"`
}

// HasDocument reports whether a document has been bound.
func (s *DemoSession) HasDocument() bool {
	return s.DocumentID != ""
}

// Remaining returns how many questions the session may still ask.
func (s *DemoSession) Remaining() int {
	if n := s.QuestionsLimit - s.QuestionsAsked; n > 0 {
		return n
	}
	return 0
}

// ExpiredAt reports whether the session is logically gone at t.
func (s *DemoSession) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Clone returns a deep copy safe to hand out of a store.
func (s *DemoSession) Clone() *DemoSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Summary != nil {
		c.Summary = append([]string(nil), s.Summary...)
	}
	if s.Messages != nil {
		c.Messages = append([]Message(nil), s.Messages...)
	}
	return &c
}

// DocumentBinding is the all-or-nothing payload attached at upload time.
type DocumentBinding struct {
	DocumentID    string
	ExtractedText string
	Summary       []string
}

// ExpiredSession identifies a session due for reaping and the document it still holds.
type ExpiredSession struct {
	SessionID  string
	DocumentID string
}
