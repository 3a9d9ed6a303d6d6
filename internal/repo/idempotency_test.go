package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-chat-history/internal/domain"
)

func TestIdempotency_CreateGetAndDuplicate(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m1", 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.MessageID != "m1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC())
	if err != nil || got.MessageID != "m1" || got.Status != 201 {
		t.Fatalf("GetIdempotency = %+v, %v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same key on another conversation is independent.
	if _, err := CreateIdempotency(ctx, db, "u1", "c2", "k1", "m3", 201, time.Hour); err != nil {
		t.Fatalf("other conversation: %v", err)
	}
}

func TestIdempotency_ExpiryAndBlankConversation(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m1", 201, time.Minute); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}

	future := time.Now().UTC().Add(2 * time.Minute)
	if _, err := GetIdempotency(ctx, db, "u1", "c1", "k1", future); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be ErrNotFound, got %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "  ", "k1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank conversation should be ErrNotFound, got %v", err)
	}

	n, err := PurgeExpiredIdempotency(ctx, db, future)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredIdempotency = %d, %v; want 1", n, err)
	}
}

func TestIdempotency_ReserveCompleteRelease(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "", 202, time.Hour)
	if err != nil || !rec.Pending() {
		t.Fatalf("reserve = %+v, %v", rec, err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "", 202, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second reserve should be ErrDuplicate, got %v", err)
	}

	if err := CompleteIdempotency(ctx, db, "u1", "c1", "k1", "m1", 201); err != nil {
		t.Fatalf("CompleteIdempotency: %v", err)
	}
	got, err := GetIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC())
	if err != nil || got.Pending() || got.MessageID != "m1" || got.Status != 201 {
		t.Fatalf("completed = %+v, %v", got, err)
	}
	if err := CompleteIdempotency(ctx, db, "u1", "c1", "k1", "m2", 201); !errors.Is(err, ErrNotFound) {
		t.Fatalf("completing twice should be ErrNotFound, got %v", err)
	}

	// Release never removes a completed record.
	if err := ReleaseIdempotency(ctx, db, "u1", "c1", "k1"); err != nil {
		t.Fatalf("ReleaseIdempotency: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC()); err != nil {
		t.Fatalf("completed record released: %v", err)
	}

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k2", "", 202, time.Hour); err != nil {
		t.Fatalf("reserve k2: %v", err)
	}
	if err := ReleaseIdempotency(ctx, db, "u1", "c1", "k2"); err != nil {
		t.Fatalf("release k2: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k2", "", 202, time.Hour); err != nil {
		t.Fatalf("released key should be reusable: %v", err)
	}
}

func TestDropExpiredIdempotency(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m1", 201, time.Minute); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if err := DropExpiredIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC()); err != nil {
		t.Fatalf("drop live: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m2", 201, time.Minute); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("live record was dropped: %v", err)
	}

	if err := DropExpiredIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC().Add(2*time.Minute)); err != nil {
		t.Fatalf("drop expired: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m2", 201, time.Minute); err != nil {
		t.Fatalf("expired key should be reusable: %v", err)
	}
}
