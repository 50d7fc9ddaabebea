package database

import (
	"context"
	"database/sql"
	"fmt"
)

// The CHECK constraints mirror the binding rules of the request DTOs in
// internal/handlers so both layers reject the same inputs.
var schema = []struct {
	name  string
	query string
}{
	{"users", `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username VARCHAR(30) UNIQUE NOT NULL CHECK (username ~ '^[A-Za-z0-9_]{3,30}$'),
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(10) NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`},
	{"tasks", `
	CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		title VARCHAR(100) NOT NULL CHECK (char_length(title) >= 1),
		description VARCHAR(500) NOT NULL CHECK (char_length(description) >= 1),
		status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in-progress', 'completed')),
		priority VARCHAR(10) NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high')),
		due_date TIMESTAMPTZ,
		assignee_id UUID NOT NULL REFERENCES users(id),
		creator_id UUID NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`},
	{"tasks_assignee_idx", `CREATE INDEX IF NOT EXISTS tasks_assignee_idx ON tasks (assignee_id);`},
	{"tasks_creator_idx", `CREATE INDEX IF NOT EXISTS tasks_creator_idx ON tasks (creator_id);`},
	{"tasks_created_at_idx", `CREATE INDEX IF NOT EXISTS tasks_created_at_idx ON tasks (created_at DESC);`},
	{"users_role_idx", `CREATE INDEX IF NOT EXISTS users_role_idx ON users (role);`},
}

// CreateTables creates all required tables in the database.
func CreateTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt.query); err != nil {
			return fmt.Errorf("create %s: %w", stmt.name, err)
		}
	}
	return nil
}
