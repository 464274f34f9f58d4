package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// column types per dialect
type typeSet struct {
	json      string
	timestamp string
	boolean   string
}

func (d Dialect) types() typeSet {
	if d == DialectSQLite {
		return typeSet{json: "TEXT", timestamp: "TIMESTAMP", boolean: "BOOLEAN"}
	}
	return typeSet{json: "JSONB", timestamp: "TIMESTAMPTZ", boolean: "BOOLEAN"}
}

// Schema returns the DDL statements for the dialect, in order.
func Schema(d Dialect) []string {
	t := d.types()
	r := strings.NewReplacer("{json}", t.json, "{ts}", t.timestamp, "{bool}", t.boolean)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			messages {json} NOT NULL,
			share_token TEXT UNIQUE,
			share_created_at {ts},
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chats_user_updated_idx ON chats (user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY,
			preferences {json} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pages (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			description TEXT,
			creator TEXT,
			config {json} NOT NULL,
			published {bool} NOT NULL DEFAULT TRUE,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			raw_payload {json},
			email TEXT,
			phone TEXT,
			name TEXT,
			message TEXT,
			status TEXT NOT NULL DEFAULT 'new',
			assigned_to TEXT,
			created_at {ts} NOT NULL,
			processed_at {ts}
		)`,
		`CREATE INDEX IF NOT EXISTS leads_created_idx ON leads (created_at)`,
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			lead_id TEXT,
			caller TEXT,
			callee TEXT,
			duration BIGINT,
			status TEXT,
			raw {json},
			created_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS amocrm_contacts (
			id TEXT PRIMARY KEY,
			data {json} NOT NULL,
			synced_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_approvals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			payload {json} NOT NULL,
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS pending_approvals_created_idx ON pending_approvals (created_at)`,
	}
	for i, stmt := range stmts {
		stmts[i] = r.Replace(stmt)
	}
	return stmts
}

// Migrate applies the schema in a single transaction. Statements are
// idempotent so repeated runs are safe.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range Schema(d) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
