package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Write(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO predictions (id, email, age, bmi, children, gender, smoker, region, prediction_usd, prediction_inr, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.Email, rec.Age, rec.BMI, rec.Children, rec.Gender, rec.Smoker, rec.Region,
		rec.PredictionUSD, rec.PredictionINR, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListByEmail(ctx context.Context, email string, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, email, age, bmi, children, gender, smoker, region, prediction_usd, prediction_inr, created_at
		FROM predictions
		WHERE email = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, email, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.Email, &r.Age, &r.BMI, &r.Children, &r.Gender, &r.Smoker, &r.Region,
			&r.PredictionUSD, &r.PredictionINR, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return out, nil
}

func (s *PostgresStore) Summary(ctx context.Context, email string, from, to time.Time) (*Summary, error) {
	query := `
		SELECT COUNT(*), COALESCE(AVG(prediction_usd), 0)
		FROM predictions
		WHERE email = $1 AND created_at BETWEEN $2 AND $3
	`
	var sum Summary
	if err := s.db.QueryRow(ctx, query, email, from, to).Scan(&sum.Count, &sum.AverageUSD); err != nil {
		return nil, fmt.Errorf("failed to summarize predictions: %w", err)
	}

	latest := `
		SELECT prediction_usd, prediction_inr
		FROM predictions
		WHERE email = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := s.db.QueryRow(ctx, latest, email, from, to).Scan(&sum.LatestUSD, &sum.LatestINR)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get latest prediction: %w", err)
	}

	return &sum, nil
}
