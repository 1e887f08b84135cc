package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const visitColumns = `id, property_address, buyer_email, buyer_name, preferences_json, created_at, updated_at`

// UpsertVisit inserts the visit or refreshes its mutable fields when a row
// with the same id already exists. An empty preferences document clears the
// stored wishlist.
func (s *Store) UpsertVisit(ctx context.Context, visit Visit) (*Visit, error) {
	id := strings.TrimSpace(visit.ID)
	if id == "" {
		return nil, errors.New("visit id required")
	}
	if strings.TrimSpace(visit.PropertyAddress) == "" {
		return nil, errors.New("property address required")
	}
	var preferences any
	if len(visit.Preferences) > 0 {
		if !json.Valid(visit.Preferences) {
			return nil, errors.New("preferences must be valid JSON")
		}
		preferences = string(visit.Preferences)
	}

	now := nowString()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO visits (id, property_address, buyer_email, buyer_name, preferences_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             property_address = excluded.property_address,
             buyer_email = excluded.buyer_email,
             buyer_name = excluded.buyer_name,
             preferences_json = excluded.preferences_json,
             updated_at = excluded.updated_at`,
		id,
		strings.TrimSpace(visit.PropertyAddress),
		nullableString(strings.ToLower(strings.TrimSpace(visit.BuyerEmail))),
		nullableString(strings.TrimSpace(visit.BuyerName)),
		preferences,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert visit: %w", err)
	}
	return s.GetVisit(ctx, id)
}

// GetVisit returns the visit with the given id, or nil when it does not exist.
func (s *Store) GetVisit(ctx context.Context, id string) (*Visit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id)
	visit, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visit: %w", err)
	}
	return visit, nil
}

// ListVisitsByBuyer returns the buyer's visits, newest first.
func (s *Store) ListVisitsByBuyer(ctx context.Context, buyerEmail string) ([]*Visit, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+visitColumns+` FROM visits WHERE buyer_email = ? ORDER BY created_at DESC, id`,
		strings.ToLower(strings.TrimSpace(buyerEmail)),
	)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	return visits, rows.Err()
}

const matchScoreColumns = `id, visit_id, score, summary, reasons_json, created_at, updated_at`

// UpsertMatchScore stores the computed score for a visit, replacing any
// earlier result. Score must be between 0 and 100.
func (s *Store) UpsertMatchScore(ctx context.Context, visitID string, score int, summary string, reasons json.RawMessage) (*MatchScore, error) {
	visitID = strings.TrimSpace(visitID)
	if visitID == "" {
		return nil, errors.New("visit id required")
	}
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("score %d out of range", score)
	}
	var reasonsValue any
	if len(reasons) > 0 {
		if !json.Valid(reasons) {
			return nil, errors.New("reasons must be valid JSON")
		}
		reasonsValue = string(reasons)
	}

	now := nowString()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO match_scores (visit_id, score, summary, reasons_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(visit_id) DO UPDATE SET
             score = excluded.score,
             summary = excluded.summary,
             reasons_json = excluded.reasons_json,
             updated_at = excluded.updated_at`,
		visitID,
		score,
		nullableString(strings.TrimSpace(summary)),
		reasonsValue,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert match score: %w", err)
	}
	return s.GetMatchScore(ctx, visitID)
}

// GetMatchScore returns the score for a visit, or nil when none is stored.
func (s *Store) GetMatchScore(ctx context.Context, visitID string) (*MatchScore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchScoreColumns+` FROM match_scores WHERE visit_id = ?`, strings.TrimSpace(visitID))
	score, err := scanMatchScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get match score: %w", err)
	}
	return score, nil
}

func scanVisit(scanner interface{ Scan(dest ...any) error }) (*Visit, error) {
	var (
		id          string
		address     string
		buyerEmail  sql.NullString
		buyerName   sql.NullString
		preferences sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&id, &address, &buyerEmail, &buyerName, &preferences, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	visit := &Visit{
		ID:              id,
		PropertyAddress: address,
		BuyerEmail:      buyerEmail.String,
		BuyerName:       buyerName.String,
	}
	if preferences.Valid {
		visit.Preferences = json.RawMessage(preferences.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		visit.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		visit.UpdatedAt = updated
	}
	return visit, nil
}

func scanMatchScore(scanner interface{ Scan(dest ...any) error }) (*MatchScore, error) {
	var (
		id         int64
		visitID    string
		score      int
		summary    sql.NullString
		reasons    sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&id, &visitID, &score, &summary, &reasons, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	matchScore := &MatchScore{
		ID:      id,
		VisitID: visitID,
		Score:   score,
		Summary: summary.String,
	}
	if reasons.Valid {
		matchScore.Reasons = json.RawMessage(reasons.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		matchScore.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		matchScore.UpdatedAt = updated
	}
	return matchScore, nil
}
