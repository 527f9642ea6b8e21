package repository

// Schema definitions for the mapping store.
// Compatible with both SQLite and PostgreSQL.

const schemaMappingRules = `
CREATE TABLE IF NOT EXISTS mapping_rules (
    variant TEXT NOT NULL,
    position INTEGER NOT NULL,
    dsd_code TEXT NOT NULL,
    formula TEXT NOT NULL,
    description TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (variant, dsd_code)
);

CREATE INDEX IF NOT EXISTS idx_mapping_rules_variant ON mapping_rules(variant, position);
`

const schemaReportRuns = `
CREATE TABLE IF NOT EXISTS report_runs (
    id TEXT PRIMARY KEY,
    variant TEXT NOT NULL,
    source TEXT,
    status TEXT NOT NULL,
    records TEXT,
    findings TEXT,
    summary TEXT NOT NULL,
    error TEXT,
    generated_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_report_runs_variant ON report_runs(variant, created_at);
CREATE INDEX IF NOT EXISTS idx_report_runs_status ON report_runs(status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaMappingRules,
		schemaReportRuns,
	}
}
