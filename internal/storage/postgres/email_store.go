package postgres

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitecore/internal/domain"
)

var emailColumns = []string{
	"id", "message_id", "from_address", "from_name", "to_address", "subject", "html", "text",
	"thread_id", "in_reply_to", "direction", "status", "lead_id", "created_at",
}

// EmailStore implements domain.EmailStore. The unique message_id constraint is
// the dedup authority for webhook deliveries.
type EmailStore struct {
	pool dbPool
}

// NewEmailStore constructs an EmailStore over pool.
func NewEmailStore(pool dbPool) *EmailStore {
	return &EmailStore{pool: pool}
}

// InsertEmail inserts email, returning domain.ErrDuplicateEmail when the message id exists.
func (s *EmailStore) InsertEmail(ctx context.Context, e domain.Email) error {
	const query = `
		INSERT INTO emails (id, message_id, from_address, from_name, to_address, subject, html, text,
			thread_id, in_reply_to, direction, status, lead_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (message_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		e.ID, e.MessageID, e.FromAddress, e.FromName, e.ToAddress, e.Subject, e.HTML, e.Text,
		e.ThreadID, e.InReplyTo, string(e.Direction), string(e.Status), e.LeadID, e.CreatedAt,
	)
	if err != nil {
		return domain.Unavailable("insert email", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateEmail
	}
	return nil
}

// GetEmail fetches one email by id.
func (s *EmailStore) GetEmail(ctx context.Context, id string) (domain.Email, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(emailColumns...).From("emails").Where(sb.Equal("id", id))
	query, args := sb.Build()

	e, err := scanEmail(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Email{}, translate("get email", err)
	}
	return e, nil
}

// ListEmails returns emails matching filter, newest first.
func (s *EmailStore) ListEmails(ctx context.Context, filter domain.EmailFilter) ([]domain.Email, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(emailColumns...).From("emails")
	if filter.Status != "" {
		sb.Where(sb.Equal("status", string(filter.Status)))
	}
	if filter.Direction != "" {
		sb.Where(sb.Equal("direction", string(filter.Direction)))
	}
	sb.OrderBy("created_at DESC", "id DESC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}
	query, args := sb.Build()
	return s.queryEmails(ctx, "list emails", query, args...)
}

// ListThread returns a thread oldest first.
func (s *EmailStore) ListThread(ctx context.Context, threadID string) ([]domain.Email, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(emailColumns...).From("emails").Where(sb.Equal("thread_id", threadID)).OrderBy("created_at ASC", "id ASC")
	query, args := sb.Build()
	return s.queryEmails(ctx, "list thread", query, args...)
}

// UpdateEmailStatus changes only the status column.
func (s *EmailStore) UpdateEmailStatus(ctx context.Context, id string, status domain.EmailStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE emails SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return domain.Unavailable("update email status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *EmailStore) queryEmails(ctx context.Context, op, query string, args ...any) ([]domain.Email, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailable(op, err)
	}
	defer rows.Close()

	out := []domain.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, domain.Unavailable(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable(op, err)
	}
	return out, nil
}

func scanEmail(row pgx.Row) (domain.Email, error) {
	var (
		e                 domain.Email
		direction, status string
	)
	if err := row.Scan(
		&e.ID, &e.MessageID, &e.FromAddress, &e.FromName, &e.ToAddress, &e.Subject, &e.HTML, &e.Text,
		&e.ThreadID, &e.InReplyTo, &direction, &status, &e.LeadID, &e.CreatedAt,
	); err != nil {
		return domain.Email{}, fmt.Errorf("scan email: %w", err)
	}
	e.Direction = domain.EmailDirection(direction)
	e.Status = domain.EmailStatus(status)
	return e, nil
}

// LeadStore implements domain.LeadStore over the externally owned leads table.
type LeadStore struct {
	pool dbPool
}

// NewLeadStore constructs a LeadStore over pool.
func NewLeadStore(pool dbPool) *LeadStore {
	return &LeadStore{pool: pool}
}

// FindLeadIDByEmail returns the oldest lead with a case-insensitive address match.
func (s *LeadStore) FindLeadIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM leads WHERE lower(email) = lower($1) ORDER BY created_at ASC LIMIT 1`, email,
	).Scan(&id)
	if err != nil {
		return "", translate("find lead", err)
	}
	return id, nil
}
