package database

import (
	"context"
	"fmt"
)

var migrations = []struct {
	name  string
	query string
}{
	{"research_jobs table", `
		CREATE TABLE IF NOT EXISTS research_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			topic TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			config JSONB,
			state JSONB,
			report TEXT,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"research_jobs error column", `ALTER TABLE research_jobs ADD COLUMN IF NOT EXISTS error TEXT`},
	{"research_logs table", `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		)`},
	{"research_logs index", `CREATE INDEX IF NOT EXISTS idx_research_logs_job_id ON research_logs(job_id)`},
	{"research_jobs index", `CREATE INDEX IF NOT EXISTS idx_research_jobs_created_at ON research_jobs(created_at DESC)`},
	{"conversations table", `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			title TEXT NOT NULL DEFAULT 'New Conversation',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"messages table", `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'chat',
			content TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"messages mode column", `ALTER TABLE messages ADD COLUMN IF NOT EXISTS mode TEXT NOT NULL DEFAULT 'chat'`},
	{"messages index", `CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id)`},
	{"conversations index", `CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`},
}

// InitSchema creates the job, log and chat tables. Every statement is idempotent.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", m.name, err)
		}
	}
	return nil
}
