package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/loqalabs/loqa-captions/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.HistoryConfig{RetentionMode: "ephemeral"}
	hs, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })
	if hs.db != nil {
		t.Fatalf("ephemeral history must not open a database")
	}
	if err := hs.AppendEntry(ctx, Entry{SessionID: "s", Kind: EntrySilence}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	entries, err := hs.ListSessionEntries(ctx, "s", 10)
	if err != nil || entries != nil {
		t.Fatalf("expected no entries, got %v %v", entries, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "session"}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	sessionID := "session-123"
	if err := hs.BeginSession(context.Background(), sessionID); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	tokens := []stt.Token{{Text: "hello", Flags: stt.FlagWordBoundary}, {Text: ".", Flags: stt.FlagSentenceEnd}}
	if err := hs.AppendEntry(context.Background(), Entry{SessionID: sessionID, Kind: EntryTokens, Text: "hello.", Tokens: tokens}); err != nil {
		t.Fatalf("append entry: %v", err)
	}
	if err := hs.AppendEntry(context.Background(), Entry{SessionID: sessionID, Kind: EntrySilence}); err != nil {
		t.Fatalf("append marker: %v", err)
	}
	entries, err := hs.ListSessionEntries(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != EntryTokens || entries[0].Text != "hello." {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	if len(entries[0].Tokens) != 2 || entries[0].Tokens[1].Flags != stt.FlagSentenceEnd {
		t.Fatalf("tokens not round-tripped: %+v", entries[0].Tokens)
	}
	if entries[1].Kind != EntrySilence || entries[1].Tokens != nil {
		t.Fatalf("unexpected marker: %+v", entries[1])
	}

	if err := hs.EndSession(context.Background(), sessionID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	sessions, err := hs.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].EndedAt.IsZero() {
		t.Fatalf("expected ended session, got %+v", sessions)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	hs.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := hs.BeginSession(context.Background(), "old-session"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := hs.AppendEntry(context.Background(), Entry{SessionID: "old-session", Kind: EntrySilence}); err != nil {
		t.Fatalf("append entry: %v", err)
	}

	hs.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := hs.BeginSession(context.Background(), "new-session"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := hs.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := hs.ListSessionEntries(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := hs.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("unexpected sessions after prune: %+v", sessions)
	}
}
