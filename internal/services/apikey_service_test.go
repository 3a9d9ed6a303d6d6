package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-chat-history/internal/domain"
)

func testSecret(b byte) []byte { return bytes.Repeat([]byte{b}, APIKeySecretLen) }

func TestNewAPIKeyService_SecretLength(t *testing.T) {
	if _, err := NewAPIKeyService(nil, []byte("short")); err == nil {
		t.Fatal("short secret accepted")
	}
	if _, err := NewAPIKeyService(nil, testSecret(1)); err != nil {
		t.Fatalf("32-byte secret rejected: %v", err)
	}
}

func TestAPIKeyService_StoreDescribeRevealDelete(t *testing.T) {
	db := newSvcDB(t)
	us := newUsers(db)
	ctx := context.Background()
	ks, err := NewAPIKeyService(db, testSecret(7))
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ks.Now = func() time.Time { return clock }

	alice := mustUser(t, us, "ines")
	const secretKey = "sk-live-abcdefghijklmnop1234"

	if err := ks.Store(ctx, alice.ID, " OpenAI ", secretKey); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var row domain.UserAPIKey
	if err := db.Where("user_id = ?", alice.ID).First(&row).Error; err != nil {
		t.Fatalf("read row: %v", err)
	}
	if row.Provider != "openai" {
		t.Fatalf("provider = %q", row.Provider)
	}
	if bytes.Contains(row.Sealed, []byte(secretKey)) || bytes.Contains(row.Sealed, []byte("abcdefgh")) {
		t.Fatal("plaintext key stored")
	}

	info, err := ks.Describe(ctx, alice.ID, "openai")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.Hint != "****1234" || info.Provider != "openai" || info.LastUsed != nil {
		t.Fatalf("info = %+v", info)
	}

	clock = clock.Add(time.Minute)
	got, err := ks.Reveal(ctx, alice.ID, "OPENAI")
	if err != nil || got != secretKey {
		t.Fatalf("Reveal = %q, %v", got, err)
	}
	info, _ = ks.Describe(ctx, alice.ID, "openai")
	if info.LastUsed == nil || !info.LastUsed.Equal(clock) {
		t.Fatalf("last_used = %v; want %v", info.LastUsed, clock)
	}

	// Storing again replaces the key.
	if err := ks.Store(ctx, alice.ID, "openai", "sk-rotated-0000000000009999"); err != nil {
		t.Fatalf("Store replace: %v", err)
	}
	if got, _ := ks.Reveal(ctx, alice.ID, "openai"); got != "sk-rotated-0000000000009999" {
		t.Fatalf("after replace = %q", got)
	}

	if err := ks.Delete(ctx, alice.ID, "openai"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := ks.Delete(ctx, alice.ID, "openai"); !errors.Is(err, ErrUnknownAPIKey) {
		t.Fatalf("Delete twice: %v", err)
	}
	if _, err := ks.Reveal(ctx, alice.ID, "openai"); !errors.Is(err, ErrUnknownAPIKey) {
		t.Fatalf("Reveal deleted: %v", err)
	}
}

func TestAPIKeyService_Validation(t *testing.T) {
	db := newSvcDB(t)
	us := newUsers(db)
	ctx := context.Background()
	ks, _ := NewAPIKeyService(db, testSecret(2))
	u := mustUser(t, us, "jon")

	for _, tc := range []struct {
		name, provider, key string
	}{
		{"blank key", "openai", "   "},
		{"blank provider", " ", "sk-1"},
		{"provider with slash", "open/ai", "sk-1"},
		{"oversized key", "openai", strings.Repeat("k", MaxAPIKeyLen+1)},
	} {
		if err := ks.Store(ctx, u.ID, tc.provider, tc.key); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: want ErrInvalidInput, got %v", tc.name, err)
		}
	}
	if err := ks.Store(ctx, "no-such-user", "openai", "sk-1"); !errors.Is(err, ErrUnknownOwner) {
		t.Fatalf("unknown owner: %v", err)
	}
	if _, err := ks.Describe(ctx, u.ID, "anthropic"); !errors.Is(err, ErrUnknownAPIKey) {
		t.Fatalf("missing key: %v", err)
	}
}

func TestAPIKeyService_SealedValueIsBoundToSecretAndRow(t *testing.T) {
	db := newSvcDB(t)
	us := newUsers(db)
	ctx := context.Background()
	ks, _ := NewAPIKeyService(db, testSecret(3))
	a := mustUser(t, us, "kim")
	b := mustUser(t, us, "lou")

	if err := ks.Store(ctx, a.ID, "openai", "sk-kim-000000000001"); err != nil {
		t.Fatal(err)
	}
	if err := ks.Store(ctx, b.ID, "openai", "sk-lou-000000000002"); err != nil {
		t.Fatal(err)
	}

	other, _ := NewAPIKeyService(db, testSecret(4))
	if _, err := other.Reveal(ctx, a.ID, "openai"); !errors.Is(err, ErrSealedKey) {
		t.Fatalf("wrong secret: want ErrSealedKey, got %v", err)
	}

	// Copying kim's sealed value onto lou's row must not hand kim's key to lou.
	var kim domain.UserAPIKey
	db.Where("user_id = ?", a.ID).First(&kim)
	if err := db.Model(&domain.UserAPIKey{}).Where("user_id = ?", b.ID).Update("sealed", kim.Sealed).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Reveal(ctx, b.ID, "openai"); !errors.Is(err, ErrSealedKey) {
		t.Fatalf("swapped row: want ErrSealedKey, got %v", err)
	}

	if err := db.Model(&domain.UserAPIKey{}).Where("user_id = ?", b.ID).Update("sealed", []byte("tiny")).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Describe(ctx, b.ID, "openai"); !errors.Is(err, ErrSealedKey) {
		t.Fatalf("truncated row: want ErrSealedKey, got %v", err)
	}
}

func TestMaskKey(t *testing.T) {
	for in, want := range map[string]string{
		"":                "",
		"abcd":            "****",
		"abcdefgh":        "********",
		"sk-abcdefgh1234": "****1234",
	} {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q; want %q", in, got, want)
		}
	}
}
