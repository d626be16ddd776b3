package attacker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/snarelabs/snare/internal/testutil"
	"github.com/snarelabs/snare/internal/toolkit"
)

func newPGStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	scorer := NewScorer(toolkit.NewMatcher(toolkit.DefaultTable()))
	return NewPostgresStore(db, scorer), cleanup
}

func TestPostgres_RecordAndGet(t *testing.T) {
	s, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()

	a := attempt("/admin", TrapAdmin, "sqlmap")
	p, err := s.RecordAccess(ctx, "203.0.113.5", a)
	if err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	// sqlmap 30 + 1 critical 15 = 45.
	if p.RiskScore != 45 {
		t.Errorf("expected score 45, got %d", p.RiskScore)
	}
	if len(p.Attempts) != 1 || p.Attempts[0].Path != "/admin" {
		t.Errorf("unexpected attempts: %+v", p.Attempts)
	}

	got, err := s.Get(ctx, "203.0.113.5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RiskScore != 45 || len(got.DetectedToolkits) != 1 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestPostgres_GetUnknown(t *testing.T) {
	s, cleanup := newPGStore(t)
	defer cleanup()

	if _, err := s.Get(context.Background(), "nobody"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_BlacklistPersistsAcrossAttempts(t *testing.T) {
	s, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, tk := range []string{"sqlmap", "metasploit", "nikto"} {
		if _, err := s.RecordAccess(ctx, "src", attempt("/p", TrapGeneric, tk)); err != nil {
			t.Fatalf("RecordAccess: %v", err)
		}
	}
	blocked, err := s.IsBlacklisted(ctx, "src")
	if err != nil || !blocked {
		t.Fatalf("expected blacklisted, got %v (err %v)", blocked, err)
	}

	p, err := s.RecordAccess(ctx, "src", attempt("/robots.txt", TrapGeneric))
	if err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	if !p.Blacklisted {
		t.Error("blacklist must survive benign attempts")
	}
}

func TestPostgres_ListAttemptsUnknownSource(t *testing.T) {
	s, cleanup := newPGStore(t)
	defer cleanup()

	if _, err := s.ListAttempts(context.Background(), "nobody", 10, time.Time{}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_ListOrdering(t *testing.T) {
	s, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()

	s.RecordAccess(ctx, "low", attempt("/p", TrapGeneric, "curl"))
	s.RecordAccess(ctx, "high", attempt("/admin", TrapAdmin, "sqlmap"))

	sums, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sums) != 2 || sums[0].SourceID != "high" {
		t.Errorf("unexpected listing: %+v", sums)
	}
	if sums[0].Attempts != 1 {
		t.Errorf("expected attempt count 1, got %d", sums[0].Attempts)
	}
}

func TestPostgres_ListAttemptsCursor(t *testing.T) {
	s, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	for i := 0; i < 4; i++ {
		a := AccessAttempt{
			ID:        fmt.Sprintf("att_pg_%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Path:      "/p",
			Trap:      TrapGeneric,
		}
		if _, err := s.RecordAccess(ctx, "src", a); err != nil {
			t.Fatalf("RecordAccess: %v", err)
		}
	}

	page, err := s.ListAttempts(ctx, "src", 2, time.Time{})
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(page) != 2 || !page[0].Timestamp.After(page[1].Timestamp) {
		t.Fatalf("expected 2 newest-first attempts, got %+v", page)
	}

	rest, err := s.ListAttempts(ctx, "src", 10, page[1].Timestamp)
	if err != nil {
		t.Fatalf("ListAttempts cursor: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("expected 2 older attempts, got %d", len(rest))
	}
}
