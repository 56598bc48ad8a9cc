package repo_test

import (
	"context"
	"errors"
	"testing"

	"designgate/internal/db"
	"designgate/internal/domain"
	"designgate/internal/migrate"
	"designgate/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// migrations must be re-runnable
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func ack(t *testing.T, r repo.Repo, a domain.Acknowledgement) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.Acknowledge(ctx, tx, a); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestAcknowledgeRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ack(t, r, domain.Acknowledgement{ID: "a1", ConsiderationID: "ec-1", ActorID: "alice", Note: "read it", AcknowledgedAt: "2024-01-01T00:00:00Z"})

	got, err := r.GetAcknowledgement(ctx, "ec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ActorID != "alice" || got.Note != "read it" || got.ID != "a1" {
		t.Fatalf("unexpected ack %+v", got)
	}

	// re-acknowledging keeps the record id and refreshes the actor
	ack(t, r, domain.Acknowledgement{ID: "a2", ConsiderationID: "ec-1", ActorID: "bob", AcknowledgedAt: "2024-01-02T00:00:00Z"})
	got, err = r.GetAcknowledgement(ctx, "ec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "a1" || got.ActorID != "bob" || got.Note != "" {
		t.Fatalf("unexpected upsert result %+v", got)
	}
}

func TestAcknowledgedSet(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ack(t, r, domain.Acknowledgement{ID: "a1", ConsiderationID: "ec-1", ActorID: "alice", AcknowledgedAt: "2024-01-01T00:00:00Z"})
	ack(t, r, domain.Acknowledgement{ID: "a2", ConsiderationID: "ec-3", ActorID: "alice", AcknowledgedAt: "2024-01-01T00:00:01Z"})

	set, err := r.AcknowledgedSet(ctx, []string{"ec-1", "ec-2", "ec-3"})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !set["ec-1"] || set["ec-2"] || !set["ec-3"] {
		t.Fatalf("unexpected set %v", set)
	}
	empty, err := r.AcknowledgedSet(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty set, got %v %v", empty, err)
	}

	all, err := r.ListAcknowledgements(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ConsiderationID != "ec-1" {
		t.Fatalf("unexpected list %+v", all)
	}
}

func TestUnacknowledge(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ack(t, r, domain.Acknowledgement{ID: "a1", ConsiderationID: "ec-1", ActorID: "alice", AcknowledgedAt: "2024-01-01T00:00:00Z"})

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Unacknowledge(ctx, tx, "ec-1"); err != nil {
		t.Fatalf("unacknowledge: %v", err)
	}
	if err := r.Unacknowledge(ctx, tx, "ec-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAcknowledgement(ctx, "ec-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestAcknowledgeRequiresID(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.Acknowledge(ctx, tx, domain.Acknowledgement{ActorID: "alice"}); err == nil {
		t.Fatalf("expected error for empty consideration id")
	}
}

func TestSchemaVersion(t *testing.T) {
	r := newRepo(t)
	applied, latest, err := migrate.Version(context.Background(), r.DB)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if applied != latest || latest < 1 {
		t.Fatalf("applied %d latest %d", applied, latest)
	}
}
