package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Mapping rule operations. Rules are stored per variant in rule order.
	ReplaceMappingRules(ctx context.Context, variant ReportVariant, rules []MappingRule) error
	ListMappingRules(ctx context.Context, variant ReportVariant) ([]MappingRule, error)
	ListAllMappingRules(ctx context.Context) (RuleSet, error)

	// Report run operations.
	SaveRun(ctx context.Context, run *ReportRun) error
	GetRun(ctx context.Context, runID string) (*ReportRun, error)
	ListRuns(ctx context.Context, variant ReportVariant, limit int) ([]*ReportRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
