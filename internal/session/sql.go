package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"legaldemo/internal/models"
)

const listExpiredBatch = 100

// SQLStore persists sessions in the demo_sessions/demo_messages tables.
// The question counter is guarded by a conditional UPDATE so the ceiling
// holds across connections.
type SQLStore struct {
	settings
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, opts ...Option) *SQLStore {
	return &SQLStore{settings: newSettings(opts), db: db}
}

func (s *SQLStore) Create(ctx context.Context) (*models.DemoSession, error) {
	for i := 0; i < maxCreateAttempts; i++ {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
		}
		se := s.newSession(id)
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO demo_sessions (session_id, created_at, expires_at, questions_asked, questions_limit) VALUES (?, ?, ?, 0, ?)`,
			se.ID, se.CreatedAt, se.ExpiresAt, se.QuestionsLimit,
		)
		if err == nil {
			return se, nil
		}
		if isDuplicateKey(err) {
			continue
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return nil, ErrAllocation
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.DemoSession, error) {
	var (
		se         models.DemoSession
		documentID sql.NullString
		text       sql.NullString
		summary    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, expires_at, document_id, extracted_text, summary, questions_asked, questions_limit
		FROM demo_sessions WHERE session_id = ? AND expires_at > ?`,
		id, s.clock(),
	).Scan(&se.ID, &se.CreatedAt, &se.ExpiresAt, &documentID, &text, &summary, &se.QuestionsAsked, &se.QuestionsLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	se.DocumentID = documentID.String
	se.ExtractedText = text.String
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &se.Summary); err != nil {
			// unreadable record: never expose partial state
			return nil, ErrNotFound
		}
	}
	if se.HasDocument() != (len(se.Summary) > 0) || se.QuestionsAsked > se.QuestionsLimit {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM demo_messages WHERE session_id = ? ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	se.Messages = []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		se.Messages = append(se.Messages, m)
	}
	return &se, rows.Err()
}

func (s *SQLStore) BindDocument(ctx context.Context, id string, binding models.DocumentBinding) (err error) {
	summary, err := json.Marshal(binding.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.clock()
	res, err := tx.ExecContext(ctx,
		`UPDATE demo_sessions SET document_id = ?, extracted_text = ?, summary = ?
		WHERE session_id = ? AND expires_at > ? AND document_id IS NULL`,
		binding.DocumentID, binding.ExtractedText, string(summary), id, now,
	)
	if err != nil {
		return fmt.Errorf("bind document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind rows affected: %w", err)
	}
	if affected == 0 {
		if _, err = s.liveCounter(ctx, tx, id, now); err != nil {
			return err
		}
		err = ErrAlreadyBound
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bind: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, id string, role models.Role, content string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.clock()
	if _, err = s.liveCounter(ctx, tx, id, now); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO demo_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		id, role, content, now,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (s *SQLStore) IncrementIfAllowed(ctx context.Context, id string) (allowed bool, remaining int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.clock()
	res, err := tx.ExecContext(ctx,
		`UPDATE demo_sessions SET questions_asked = questions_asked + 1
		WHERE session_id = ? AND expires_at > ? AND questions_asked < questions_limit`,
		id, now,
	)
	if err != nil {
		return false, 0, fmt.Errorf("increment questions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("increment rows affected: %w", err)
	}
	counter, err := s.liveCounter(ctx, tx, id, now)
	if err != nil {
		return false, 0, err
	}
	if err = tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit increment: %w", err)
	}
	if affected == 0 {
		return false, 0, nil
	}
	return true, counter.remaining(), nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) (documentID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var doc sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT document_id FROM demo_sessions WHERE session_id = ?`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
			return "", err
		}
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM demo_messages WHERE session_id = ?`, id); err != nil {
		return "", fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM demo_sessions WHERE session_id = ?`, id); err != nil {
		return "", fmt.Errorf("delete session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit delete session: %w", err)
	}
	return doc.String, nil
}

// ListExpired pages through expired rows by session id so no result set is
// held open while the caller deletes.
func (s *SQLStore) ListExpired(ctx context.Context, asOf time.Time) iter.Seq2[models.ExpiredSession, error] {
	asOf = asOf.UTC()
	return func(yield func(models.ExpiredSession, error) bool) {
		after := ""
		for {
			batch, err := s.expiredPage(ctx, asOf, after)
			if err != nil {
				yield(models.ExpiredSession{}, err)
				return
			}
			for _, ex := range batch {
				if !yield(ex, nil) {
					return
				}
			}
			if len(batch) < listExpiredBatch {
				return
			}
			after = batch[len(batch)-1].SessionID
		}
	}
}

func (s *SQLStore) expiredPage(ctx context.Context, asOf time.Time, after string) ([]models.ExpiredSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, document_id FROM demo_sessions
		WHERE expires_at <= ? AND session_id > ? ORDER BY session_id ASC LIMIT ?`,
		asOf, after, listExpiredBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

	var batch []models.ExpiredSession
	for rows.Next() {
		var (
			ex  models.ExpiredSession
			doc sql.NullString
		)
		if err := rows.Scan(&ex.SessionID, &doc); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		ex.DocumentID = doc.String
		batch = append(batch, ex)
	}
	return batch, rows.Err()
}

type counter struct {
	asked int
	limit int
}

func (c counter) remaining() int {
	if n := c.limit - c.asked; n > 0 {
		return n
	}
	return 0
}

// liveCounter reads the counter of a live session inside tx, or ErrNotFound.
func (s *SQLStore) liveCounter(ctx context.Context, tx *sql.Tx, id string, now time.Time) (counter, error) {
	var c counter
	err := tx.QueryRowContext(ctx,
		`SELECT questions_asked, questions_limit FROM demo_sessions WHERE session_id = ? AND expires_at > ?`,
		id, now,
	).Scan(&c.asked, &c.limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ErrNotFound
		}
		return c, fmt.Errorf("read session counter: %w", err)
	}
	return c, nil
}

func isDuplicateKey(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
