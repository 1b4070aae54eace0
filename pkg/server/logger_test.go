package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedExec struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []recordedExec
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, recordedExec{sql: sql, args: args})
	return pgconn.CommandTag{}, f.err
}

func metadataOf(t *testing.T, call recordedExec) map[string]any {
	t.Helper()
	var meta map[string]any
	require.NoError(t, json.Unmarshal(call.args[4].([]byte), &meta))
	return meta
}

func TestDBLogHandlerWritesRecord(t *testing.T) {
	db := &fakeExecer{}
	jobID := uuid.New()
	logger := slog.New(NewDBLogHandler(db, jobID))

	logger.Info("Searching", "query", "go generics", "loop", 2)

	require.Len(t, db.calls, 1)
	call := db.calls[0]
	assert.Contains(t, call.sql, "INSERT INTO research_logs")
	assert.Equal(t, jobID, call.args[0])
	assert.Equal(t, "INFO", call.args[2])
	assert.Equal(t, "Searching", call.args[3])

	meta := metadataOf(t, call)
	assert.Equal(t, "go generics", meta["query"])
	assert.EqualValues(t, 2, meta["loop"])
}

func TestDBLogHandlerWithAttrsAndGroup(t *testing.T) {
	db := &fakeExecer{}
	logger := slog.New(NewDBLogHandler(db, uuid.New())).
		With("job_id", "j1").
		WithGroup("stage").
		With("name", "summarizing")

	logger.Warn("slow", "seconds", 3)

	require.Len(t, db.calls, 1)
	meta := metadataOf(t, db.calls[0])
	assert.Equal(t, "j1", meta["job_id"])
	assert.Equal(t, "summarizing", meta["stage.name"])
	assert.EqualValues(t, 3, meta["stage.seconds"])
	assert.Equal(t, "WARN", db.calls[0].args[2])
}

func TestDBLogHandlerForwardsToNext(t *testing.T) {
	db := &fakeExecer{err: errors.New("db down")}
	var console bytes.Buffer
	h := NewDBLogHandler(db, uuid.New())
	h.Next = slog.NewTextHandler(&console, nil)

	err := h.WithAttrs([]slog.Attr{slog.String("topic", "rust")}).Handle(context.Background(), slog.NewRecord(
		time.Now(), slog.LevelError, "failed", 0,
	))

	assert.EqualError(t, err, "db down")
	assert.True(t, strings.Contains(console.String(), "topic=rust"), console.String())
	assert.Contains(t, console.String(), "msg=failed")
}
