package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const reportColumns = `id, buyer_email, subject, html_body, created_at, updated_at, sent_at`

// UpsertReport stores the rendered report for a buyer, replacing any earlier
// version. Regenerating a report clears its sent marker so the delivery stage
// sends the fresh copy.
func (s *Store) UpsertReport(ctx context.Context, buyerEmail, subject, htmlBody string) (*Report, error) {
	email := strings.ToLower(strings.TrimSpace(buyerEmail))
	if email == "" {
		return nil, errors.New("buyer email required")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("subject required")
	}
	if strings.TrimSpace(htmlBody) == "" {
		return nil, errors.New("report body required")
	}

	now := nowString()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO reports (buyer_email, subject, html_body, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(buyer_email) DO UPDATE SET
             subject = excluded.subject,
             html_body = excluded.html_body,
             updated_at = excluded.updated_at,
             sent_at = NULL`,
		email,
		subject,
		htmlBody,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert report: %w", err)
	}
	return s.GetReportByEmail(ctx, email)
}

// GetReport returns the report with the given id, or nil when absent.
func (s *Store) GetReport(ctx context.Context, id int64) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// GetReportByEmail returns the buyer's report, or nil when absent.
func (s *Store) GetReportByEmail(ctx context.Context, buyerEmail string) (*Report, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+reportColumns+` FROM reports WHERE buyer_email = ?`,
		strings.ToLower(strings.TrimSpace(buyerEmail)),
	)
	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report by email: %w", err)
	}
	return report, nil
}

// MarkReportSent stamps the report as delivered.
func (s *Store) MarkReportSent(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE reports SET sent_at = ?, updated_at = ? WHERE id = ?`,
		nowString(),
		nowString(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark report sent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark report sent: report %d not found", id)
	}
	return nil
}

func scanReport(scanner interface{ Scan(dest ...any) error }) (*Report, error) {
	var (
		id         int64
		buyerEmail string
		subject    string
		htmlBody   string
		createdRaw string
		updatedRaw string
		sentRaw    sql.NullString
	)
	if err := scanner.Scan(&id, &buyerEmail, &subject, &htmlBody, &createdRaw, &updatedRaw, &sentRaw); err != nil {
		return nil, err
	}
	report := &Report{
		ID:         id,
		BuyerEmail: buyerEmail,
		Subject:    subject,
		HTMLBody:   htmlBody,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		report.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		report.UpdatedAt = updated
	}
	if sentRaw.Valid {
		if sent, err := parseTimeString(sentRaw.String); err == nil {
			report.SentAt = &sent
		}
	}
	return report, nil
}
