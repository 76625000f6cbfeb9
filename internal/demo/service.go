// Package demo implements the anonymous demo flow: upload a document, ask a
// bounded number of questions about it, reset, and timed eviction.
package demo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"legaldemo/internal/blob"
	"legaldemo/internal/extract"
	"legaldemo/internal/logger"
	"legaldemo/internal/models"
	"legaldemo/internal/service/ai"
	"legaldemo/internal/session"
	"legaldemo/internal/summary"
)

const (
	DefaultMaxUploadBytes    = 10 << 20
	DefaultGenerationTimeout = 30 * time.Second
	MaxQuestionRunes         = 2000
)

// Deps are the collaborators of the demo flow.
type Deps struct {
	Store      session.Store
	Blobs      blob.Store
	Extractor  extract.Extractor
	Summarizer summary.Summarizer
	Generator  ai.Generator
	Logger     *logger.Logger
}

type Limits struct {
	MaxUploadBytes    int64
	GenerationTimeout time.Duration
}

type Service struct {
	store      session.Store
	blobs      blob.Store
	extractor  extract.Extractor
	summarizer summary.Summarizer
	generator  ai.Generator
	limits     Limits
	locks      *sessionLocks
	log        *logger.Logger
	tracer     trace.Tracer
}

func NewService(deps Deps, limits Limits) (*Service, error) {
	if deps.Store == nil || deps.Blobs == nil || deps.Extractor == nil || deps.Summarizer == nil || deps.Generator == nil {
		return nil, errors.New("demo service: missing dependency")
	}
	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if limits.GenerationTimeout <= 0 {
		limits.GenerationTimeout = DefaultGenerationTimeout
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:      deps.Store,
		blobs:      deps.Blobs,
		extractor:  deps.Extractor,
		summarizer: deps.Summarizer,
		generator:  deps.Generator,
		limits:     limits,
		locks:      newSessionLocks(),
		log:        log.With("component", "demo"),
		tracer:     otel.Tracer("legaldemo/demo"),
	}, nil
}

func (s *Service) MaxUploadBytes() int64 { return s.limits.MaxUploadBytes }

type UploadInput struct {
	SessionID string
	Filename  string
	Data      []byte
}

type UploadResult struct {
	SessionID          string   `json:"session_id"`
	DocumentID         string   `json:"document_id"`
	Summary            []string `json:"summary"`
	QuestionsRemaining int      `json:"questions_remaining"`
}

// Upload validates, extracts and summarizes a document and binds it to the
// given session, or to a new session when none is given. Nothing is bound
// unless every step succeeds.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	ctx, span := s.tracer.Start(ctx, "demo.Upload", trace.WithAttributes(
		attribute.String("demo.session_id", in.SessionID),
		attribute.Int("demo.upload_bytes", len(in.Data)),
	))
	defer span.End()

	res, err := s.upload(ctx, in)
	if err != nil {
		endWithError(span, err)
		s.log.Info("upload rejected", "session_id", in.SessionID, "code", Code(err), "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("demo.document_id", res.DocumentID))
	s.log.Info("document bound", "session_id", res.SessionID, "document_id", res.DocumentID, "bullets", len(res.Summary))
	return res, nil
}

func (s *Service) upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedMediaType)
	}
	if int64(len(in.Data)) > s.limits.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(in.Data), s.limits.MaxUploadBytes)
	}
	kind, err := extract.Detect(in.Data, in.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMediaType, err)
	}

	var se *models.DemoSession
	if in.SessionID != "" {
		unlock := s.locks.Lock(in.SessionID)
		defer unlock()
		if se, err = s.store.Get(ctx, in.SessionID); err != nil {
			return nil, err
		}
		if se.HasDocument() {
			return nil, session.ErrAlreadyBound
		}
	}

	text, err := s.extractor.Extract(ctx, in.Data, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	bullets, err := s.summarizer.Summarize(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	docID, err := s.blobs.Put(ctx, in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	created := false
	if se == nil {
		if se, err = s.store.Create(ctx); err != nil {
			s.discardDocument(ctx, docID)
			return nil, err
		}
		created = true
	}

	rollback := func() {
		s.discardDocument(ctx, docID)
		if created {
			if _, err := s.store.Delete(context.WithoutCancel(ctx), se.ID); err != nil {
				s.log.Warn("discard new session failed", "session_id", se.ID, "error", err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		rollback()
		return nil, err
	}
	err = s.store.BindDocument(ctx, se.ID, models.DocumentBinding{
		DocumentID:    docID,
		ExtractedText: text,
		Summary:       bullets,
	})
	if err != nil {
		rollback()
		return nil, err
	}
	return &UploadResult{
		SessionID:          se.ID,
		DocumentID:         docID,
		Summary:            bullets,
		QuestionsRemaining: se.Remaining(),
	}, nil
}

func (s *Service) discardDocument(ctx context.Context, docID string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), docID); err != nil {
		s.log.Warn("discard document failed", "document_id", docID, "error", err)
	}
}

type AskInput struct {
	SessionID string
	Question  string
}

type AskResult struct {
	Answer             string `json:"answer"`
	QuestionsRemaining int    `json:"questions_remaining"`
}

// Ask answers one question against the session's document. Questions on the
// same session are processed one at a time.
func (s *Service) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	ctx, span := s.tracer.Start(ctx, "demo.Ask", trace.WithAttributes(
		attribute.String("demo.session_id", in.SessionID),
	))
	defer span.End()

	res, err := s.ask(ctx, in)
	if err != nil {
		endWithError(span, err)
		s.log.Info("question rejected", "session_id", in.SessionID, "code", Code(err), "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("demo.questions_remaining", res.QuestionsRemaining))
	return res, nil
}

func (s *Service) ask(ctx context.Context, in AskInput) (*AskResult, error) {
	question := strings.TrimSpace(in.Question)
	if in.SessionID == "" || question == "" {
		return nil, fmt.Errorf("%w: session_id and question are required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(question) > MaxQuestionRunes {
		return nil, fmt.Errorf("%w: question longer than %d characters", ErrInvalidRequest, MaxQuestionRunes)
	}

	unlock := s.locks.Lock(in.SessionID)
	defer unlock()

	se, err := s.store.Get(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if !se.HasDocument() {
		return nil, ErrNoDocument
	}
	allowed, remaining, err := s.store.IncrementIfAllowed(ctx, se.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &QuestionError{Err: ErrLimitExceeded, Remaining: 0}
	}
	if err := s.store.AppendMessage(ctx, se.ID, models.RoleUser, question); err != nil {
		return nil, &QuestionError{Err: err, Remaining: remaining}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.limits.GenerationTimeout)
	answer, err := s.generator.Answer(genCtx, se.ExtractedText, question, se.Messages)
	cancel()
	if err != nil {
		s.log.Warn("answer generation failed", "session_id", se.ID, "error", err)
		return nil, &QuestionError{Err: fmt.Errorf("%w: %v", ErrGenerationFailed, err), Remaining: remaining}
	}
	if err := s.store.AppendMessage(ctx, se.ID, models.RoleAssistant, answer); err != nil {
		return nil, &QuestionError{Err: err, Remaining: remaining}
	}
	return &AskResult{Answer: answer, QuestionsRemaining: remaining}, nil
}

// Reset destroys a session and releases its document. The session survives
// if the document cannot be released.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "demo.Reset", trace.WithAttributes(
		attribute.String("demo.session_id", sessionID),
	))
	defer span.End()

	if err := s.reset(ctx, sessionID); err != nil {
		endWithError(span, err)
		return err
	}
	s.log.Info("session reset", "session_id", sessionID)
	return nil
}

func (s *Service) reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	se, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if se.HasDocument() {
		if err := s.blobs.Delete(ctx, se.DocumentID); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	_, err = s.store.Delete(ctx, sessionID)
	return err
}

// Session returns a live session with its conversation.
func (s *Service) Session(ctx context.Context, sessionID string) (*models.DemoSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	return s.store.Get(ctx, sessionID)
}

func endWithError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, Code(err))
}
