package demo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legaldemo/internal/blob"
	"legaldemo/internal/extract"
	"legaldemo/internal/models"
	"legaldemo/internal/service/ai"
	"legaldemo/internal/session"
	"legaldemo/internal/summary"
)

const contract = `SERVICES AGREEMENT

This Services Agreement is made on March 3, 2025 between Northwind Traders Ltd and Contoso Consulting LLC.

1. Services. The Consultant shall provide software advisory services described in Schedule A.
2. Payment. The Client shall pay all invoices within thirty days of receipt.
3. Confidentiality. Each party must keep the other party's confidential information secret.
4. Termination. Either party may terminate this Agreement upon sixty days written notice.
5. Liability. Neither party is liable for indirect or consequential damages.
6. Governing Law. This Agreement is governed by the laws of England and Wales.`

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memBlobs struct {
	mu         sync.Mutex
	seq        int
	docs       map[string][]byte
	failPut    bool
	failDelete int
}

func newMemBlobs() *memBlobs { return &memBlobs{docs: make(map[string][]byte)} }

func (m *memBlobs) Put(ctx context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", errors.New("disk full")
	}
	m.seq++
	id := fmt.Sprintf("doc-%03d", m.seq)
	m.docs[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *memBlobs) Get(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return d, nil
}

func (m *memBlobs) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete > 0 {
		m.failDelete--
		return errors.New("storage unavailable")
	}
	delete(m.docs, id)
	return nil
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *memBlobs) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[id]
	return ok
}

type generatorFunc func(ctx context.Context, contextText, question string, history []models.Message) (string, error)

func (f generatorFunc) Answer(ctx context.Context, contextText, question string, history []models.Message) (string, error) {
	return f(ctx, contextText, question, history)
}

type fixture struct {
	svc   *Service
	store *session.MemoryStore
	blobs *memBlobs
	clock *clock
}

func newFixture(t *testing.T, gen ai.Generator, limits Limits) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)}
	store := session.NewMemoryStore(session.WithClock(c.Now), session.WithTTL(30*time.Minute), session.WithQuestionLimit(5))
	blobs := newMemBlobs()
	ex, err := extract.NewDocumentExtractor(context.Background())
	require.NoError(t, err)
	if gen == nil {
		gen = ai.NewTemplateGenerator()
	}
	svc, err := NewService(Deps{
		Store:      store,
		Blobs:      blobs,
		Extractor:  ex,
		Summarizer: summary.New(),
		Generator:  gen,
	}, limits)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, blobs: blobs, clock: c}
}

func (f *fixture) upload(t *testing.T, sessionID string) *UploadResult {
	t.Helper()
	res, err := f.svc.Upload(context.Background(), UploadInput{SessionID: sessionID, Filename: "contract.txt", Data: []byte(contract)})
	require.NoError(t, err)
	return res
}

func TestScenarioUploadAskLimitReset(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	ctx := context.Background()

	up := f.upload(t, "")
	assert.NotEmpty(t, up.SessionID)
	assert.True(t, f.blobs.has(up.DocumentID))
	assert.GreaterOrEqual(t, len(up.Summary), 3)
	assert.LessOrEqual(t, len(up.Summary), 8)
	assert.Equal(t, 5, up.QuestionsRemaining)

	questions := []string{
		"When must invoices be paid?",
		"How can the agreement be terminated?",
		"Which laws govern this agreement?",
		"What services does the consultant provide?",
		"Who won the cup final?",
	}
	for i, q := range questions {
		res, err := f.svc.Ask(ctx, AskInput{SessionID: up.SessionID, Question: q})
		require.NoError(t, err)
		assert.Equal(t, 4-i, res.QuestionsRemaining)
		assert.NotEmpty(t, res.Answer)
	}

	_, err := f.svc.Ask(ctx, AskInput{SessionID: up.SessionID, Question: "One more?"})
	require.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, CodeLimitExceeded, Code(err))
	remaining, ok := Remaining(err)
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)

	se, err := f.svc.Session(ctx, up.SessionID)
	require.NoError(t, err)
	assert.Len(t, se.Messages, 10)
	assert.Equal(t, models.RoleUser, se.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, se.Messages[1].Role)
	assert.Equal(t, ai.NotEnoughInformation, se.Messages[9].Content)

	require.NoError(t, f.svc.Reset(ctx, up.SessionID))
	_, err = f.svc.Session(ctx, up.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.False(t, f.blobs.has(up.DocumentID))

	err = f.svc.Reset(ctx, up.SessionID)
	assert.Equal(t, CodeNotFound, Code(err))
}

func TestFirstAnswerQuotesDocument(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	up := f.upload(t, "")
	res, err := f.svc.Ask(context.Background(), AskInput{SessionID: up.SessionID, Question: "When must invoices be paid?"})
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "within thirty days of receipt")
	assert.Equal(t, 4, res.QuestionsRemaining)
}

func TestParallelAsksRespectCeiling(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	up := f.upload(t, "")

	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		accepted, denied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Ask(context.Background(), AskInput{SessionID: up.SessionID, Question: fmt.Sprintf("What about payment %d?", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrLimitExceeded):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, accepted)
	assert.Equal(t, 15, denied)
	assert.Equal(t, 0, f.svc.locks.len())

	se, err := f.svc.Session(context.Background(), up.SessionID)
	require.NoError(t, err)
	assert.Len(t, se.Messages, 10)
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, nil, Limits{MaxUploadBytes: 64})
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadInput{Filename: "empty.txt"})
	assert.Equal(t, CodeUnsupportedMediaType, Code(err))

	_, err = f.svc.Upload(ctx, UploadInput{Filename: "big.txt", Data: []byte(strings.Repeat("a ", 40))})
	assert.Equal(t, CodePayloadTooLarge, Code(err))

	_, err = f.svc.Upload(ctx, UploadInput{Filename: "scan.png", Data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")})
	assert.Equal(t, CodeUnsupportedMediaType, Code(err))

	_, err = f.svc.Upload(ctx, UploadInput{Filename: "short.txt", Data: []byte("Signed.")})
	assert.Equal(t, CodeExtractionFailed, Code(err))

	assert.Equal(t, 0, f.blobs.count())
	assert.Equal(t, 0, f.store.Len())
}

func TestFailedUploadLeavesSessionUnbound(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	ctx := context.Background()
	se, err := f.store.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.Upload(ctx, UploadInput{SessionID: se.ID, Filename: "empty.txt"})
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)
	_, err = f.svc.Upload(ctx, UploadInput{SessionID: se.ID, Filename: "broken.pdf", Data: []byte("%PDF-1.4\nbroken")})
	assert.ErrorIs(t, err, ErrExtractionFailed)

	got, err := f.svc.Session(ctx, se.ID)
	require.NoError(t, err)
	assert.False(t, got.HasDocument())
	assert.Equal(t, 0, f.blobs.count())

	_, err = f.svc.Ask(ctx, AskInput{SessionID: se.ID, Question: "Anything?"})
	assert.ErrorIs(t, err, ErrNoDocument)

	up := f.upload(t, se.ID)
	assert.Equal(t, se.ID, up.SessionID)
	assert.Equal(t, 5, up.QuestionsRemaining)
}

func TestUploadToBoundSession(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	up := f.upload(t, "")

	_, err := f.svc.Upload(context.Background(), UploadInput{SessionID: up.SessionID, Filename: "contract.txt", Data: []byte(contract)})
	assert.ErrorIs(t, err, session.ErrAlreadyBound)
	assert.Equal(t, CodeAlreadyBound, Code(err))
	assert.Equal(t, 1, f.blobs.count())

	_, err = f.svc.Upload(context.Background(), UploadInput{SessionID: "unknown", Filename: "contract.txt", Data: []byte(contract)})
	assert.Equal(t, CodeNotFound, Code(err))
}

func TestConcurrentUploadsCreateDistinctSessions(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	results := make([]*UploadResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Upload(context.Background(), UploadInput{Filename: "contract.txt", Data: []byte(contract)})
			if err != nil {
				t.Errorf("upload: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].SessionID, results[1].SessionID)
	assert.NotEqual(t, results[0].DocumentID, results[1].DocumentID)
	assert.Equal(t, 2, f.blobs.count())
}

func TestUploadStorageFailure(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	f.blobs.failPut = true
	_, err := f.svc.Upload(context.Background(), UploadInput{Filename: "contract.txt", Data: []byte(contract)})
	assert.Equal(t, CodeStorageFailed, Code(err))
	assert.Equal(t, 0, f.store.Len())
}

type failingBindStore struct {
	*session.MemoryStore
}

func (failingBindStore) BindDocument(ctx context.Context, id string, binding models.DocumentBinding) error {
	return errors.New("write conflict")
}

func TestUploadRollsBackOnBindFailure(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	store := failingBindStore{MemoryStore: session.NewMemoryStore()}
	f.svc.store = store

	_, err := f.svc.Upload(context.Background(), UploadInput{Filename: "contract.txt", Data: []byte(contract)})
	require.Error(t, err)
	assert.Equal(t, CodeInternal, Code(err))
	assert.Equal(t, 0, f.blobs.count())
	assert.Equal(t, 0, store.Len())
}

func TestUploadCancelledBeforeBind(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Upload(ctx, UploadInput{Filename: "contract.txt", Data: []byte(contract)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.blobs.count())
	assert.Equal(t, 0, f.store.Len())
}

func TestGenerationFailureCountsAgainstCeiling(t *testing.T) {
	calls := 0
	gen := generatorFunc(func(ctx context.Context, contextText, question string, history []models.Message) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("model overloaded")
		}
		return "ok", nil
	})
	f := newFixture(t, gen, Limits{})
	up := f.upload(t, "")

	_, err := f.svc.Ask(context.Background(), AskInput{SessionID: up.SessionID, Question: "First?"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, CodeGenerationFailed, Code(err))
	remaining, ok := Remaining(err)
	assert.True(t, ok)
	assert.Equal(t, 4, remaining)

	res, err := f.svc.Ask(context.Background(), AskInput{SessionID: up.SessionID, Question: "Second?"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.QuestionsRemaining)

	se, err := f.svc.Session(context.Background(), up.SessionID)
	require.NoError(t, err)
	require.Len(t, se.Messages, 3)
	assert.Equal(t, "First?", se.Messages[0].Content)
	assert.Equal(t, "Second?", se.Messages[1].Content)
}

func TestGenerationTimeout(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, contextText, question string, history []models.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, gen, Limits{GenerationTimeout: 20 * time.Millisecond})
	up := f.upload(t, "")

	_, err := f.svc.Ask(context.Background(), AskInput{SessionID: up.SessionID, Question: "Slow?"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGeneratorReceivesPriorMessages(t *testing.T) {
	var seen [][]models.Message
	gen := generatorFunc(func(ctx context.Context, contextText, question string, history []models.Message) (string, error) {
		assert.Contains(t, contextText, "Northwind")
		seen = append(seen, history)
		return "answer to " + question, nil
	})
	f := newFixture(t, gen, Limits{})
	up := f.upload(t, "")

	for _, q := range []string{"a?", "b?"} {
		_, err := f.svc.Ask(context.Background(), AskInput{SessionID: up.SessionID, Question: q})
		require.NoError(t, err)
	}
	require.Len(t, seen, 2)
	assert.Empty(t, seen[0])
	require.Len(t, seen[1], 2)
	assert.Equal(t, "answer to a?", seen[1][1].Content)
}

func TestAskValidation(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, AskInput{SessionID: "", Question: "hi"})
	assert.Equal(t, CodeInvalidRequest, Code(err))
	_, err = f.svc.Ask(ctx, AskInput{SessionID: "x", Question: "   "})
	assert.Equal(t, CodeInvalidRequest, Code(err))
	_, err = f.svc.Ask(ctx, AskInput{SessionID: "x", Question: strings.Repeat("q", MaxQuestionRunes+1)})
	assert.Equal(t, CodeInvalidRequest, Code(err))
	_, err = f.svc.Ask(ctx, AskInput{SessionID: "missing", Question: "hi"})
	assert.Equal(t, CodeNotFound, Code(err))
}

func TestResetKeepsSessionWhenStorageFails(t *testing.T) {
	f := newFixture(t, nil, Limits{})
	up := f.upload(t, "")
	f.blobs.failDelete = 1

	err := f.svc.Reset(context.Background(), up.SessionID)
	assert.Equal(t, CodeStorageFailed, Code(err))
	_, err = f.svc.Session(context.Background(), up.SessionID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(context.Background(), up.SessionID))
	assert.False(t, f.blobs.has(up.DocumentID))
}

func TestCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidRequest, CodeInvalidRequest},
		{fmt.Errorf("x: %w", ErrPayloadTooLarge), CodePayloadTooLarge},
		{session.ErrNotFound, CodeNotFound},
		{session.ErrAlreadyBound, CodeAlreadyBound},
		{session.ErrAllocation, CodeAllocationFailed},
		{ErrNoDocument, CodeNoDocument},
		{&QuestionError{Err: ErrLimitExceeded}, CodeLimitExceeded},
		{fmt.Errorf("%w: boom", ErrStorage), CodeStorageFailed},
		{errors.New("something else"), CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err), "error %v", tc.err)
	}
}
