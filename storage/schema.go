package storage

import (
	"context"
	"fmt"
	"strings"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		image TEXT,
		role TEXT NOT NULL DEFAULT 'USER',
		github_id BIGINT NOT NULL UNIQUE,
		github_login TEXT NOT NULL,
		github_token TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		github_repo_id TEXT UNIQUE,
		github_repo_name TEXT,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'MEMBER',
		created_at {{ts}} NOT NULL,
		PRIMARY KEY (user_id, project_id)
	)`,
	`CREATE INDEX IF NOT EXISTS members_project_idx ON members (project_id)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'todo',
		sort_order INTEGER NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		tags TEXT NOT NULL DEFAULT '[]',
		github_branch TEXT,
		github_pr_id BIGINT,
		github_pr_status TEXT,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_partition_idx ON tasks (project_id, status, sort_order)`,
	`CREATE TABLE IF NOT EXISTS waitlist (
		email TEXT PRIMARY KEY,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS whitelist (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at {{ts}} NOT NULL
	)`,
}

func (db *DB) timestampType() string {
	if db.driver == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{ts}}", db.timestampType())
		if _, err := db.x.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
