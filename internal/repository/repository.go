// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceMappingRules replaces the full rule list for a variant in a single
// transaction, preserving rule order through the position column.
func (r *SQLRepository) ReplaceMappingRules(ctx context.Context, variant domain.ReportVariant, rules []domain.MappingRule) error {
	if !variant.Valid() {
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, variant)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM mapping_rules WHERE variant = ?`), string(variant)); err != nil {
		return err
	}

	now := time.Now().UTC()
	insert := r.rebind(`
		INSERT INTO mapping_rules (variant, position, dsd_code, formula, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for i, rule := range rules {
		if _, err := tx.ExecContext(ctx, insert,
			string(variant), i, rule.TargetCode, rule.Formula, rule.Description, now,
		); err != nil {
			return fmt.Errorf("insert rule %s: %w", rule.TargetCode, err)
		}
	}

	return tx.Commit()
}

// ListMappingRules retrieves a variant's rules in their stored order.
func (r *SQLRepository) ListMappingRules(ctx context.Context, variant domain.ReportVariant) ([]domain.MappingRule, error) {
	if !variant.Valid() {
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, variant)
	}

	query := `
		SELECT dsd_code, formula, description
		FROM mapping_rules
		WHERE variant = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(variant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.MappingRule
	for rows.Next() {
		var rule domain.MappingRule
		var description sql.NullString
		if err := rows.Scan(&rule.TargetCode, &rule.Formula, &description); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// ListAllMappingRules retrieves the rules for every variant.
func (r *SQLRepository) ListAllMappingRules(ctx context.Context) (domain.RuleSet, error) {
	set := domain.RuleSet{}
	for _, variant := range domain.KnownVariants() {
		rules, err := r.ListMappingRules(ctx, variant)
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			set[variant] = rules
		}
	}
	return set, nil
}

// SaveRun stores a completed or failed report run.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.ReportRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	records, _ := json.Marshal(run.Records)
	findings, _ := json.Marshal(run.Findings)
	summary, _ := json.Marshal(run.Summary)

	query := `
		INSERT INTO report_runs (
			id, variant, source, status, records, findings, summary,
			error, generated_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, string(run.Variant), run.Source, string(run.Status),
		string(records), string(findings), string(summary),
		run.Error, run.GeneratedAt, run.CreatedAt,
	)
	return err
}

// GetRun retrieves a report run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.ReportRun, error) {
	query := `
		SELECT id, variant, source, status, records, findings, summary,
			   error, generated_at, created_at
		FROM report_runs
		WHERE id = ?
	`

	var run domain.ReportRun
	var records, findings, summary string

	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&run.ID, &run.Variant, &run.Source, &run.Status,
		&records, &findings, &summary,
		&run.Error, &run.GeneratedAt, &run.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if records != "" {
		json.Unmarshal([]byte(records), &run.Records)
	}
	if findings != "" {
		json.Unmarshal([]byte(findings), &run.Findings)
	}
	if summary != "" {
		json.Unmarshal([]byte(summary), &run.Summary)
	}

	return &run, nil
}

// ListRuns retrieves recent runs, newest first. An empty variant matches all
// variants; limit <= 0 means no limit.
func (r *SQLRepository) ListRuns(ctx context.Context, variant domain.ReportVariant, limit int) ([]*domain.ReportRun, error) {
	query := `
		SELECT id, variant, source, status, records, findings, summary,
			   error, generated_at, created_at
		FROM report_runs
	`
	var args []any
	if variant != "" {
		query += ` WHERE variant = ?`
		args = append(args, string(variant))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.ReportRun
	for rows.Next() {
		var run domain.ReportRun
		var records, findings, summary string

		if err := rows.Scan(
			&run.ID, &run.Variant, &run.Source, &run.Status,
			&records, &findings, &summary,
			&run.Error, &run.GeneratedAt, &run.CreatedAt,
		); err != nil {
			return nil, err
		}

		if records != "" {
			json.Unmarshal([]byte(records), &run.Records)
		}
		if findings != "" {
			json.Unmarshal([]byte(findings), &run.Findings)
		}
		if summary != "" {
			json.Unmarshal([]byte(summary), &run.Summary)
		}

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
