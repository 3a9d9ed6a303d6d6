package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-chat-history/internal/domain"
)

func TestConversationsStats(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")

	count, max, err := ConversationsStats(ctx, db, "u1")
	if err != nil || count != 0 || max != nil {
		t.Fatalf("empty stats = %d, %v, %v", count, max, err)
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedConversation(t, db, "a", "u1", base, domain.LifecycleActive)
	seedConversation(t, db, "b", "u1", base.Add(time.Hour), domain.LifecycleActive)
	seedConversation(t, db, "c", "u1", base.Add(2*time.Hour), domain.LifecycleSoftDeleted)

	count, max, err = ConversationsStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("ConversationsStats: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d; want 2", count)
	}
	if max == nil || !max.Equal(base.Add(time.Hour)) {
		t.Fatalf("max = %v; want %v", max, base.Add(time.Hour))
	}
}

func TestMessagesStats(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedConversation(t, db, "c1", "u1", time.Now().UTC(), domain.LifecycleActive)

	now := time.Now().UTC()
	_ = CreateMessage(ctx, db, &domain.Message{ID: "m1", ConversationID: "c1", Role: domain.RoleUser, Content: "a", Timestamp: now, Order: 1, TokensUsed: intp(12)})
	_ = CreateMessage(ctx, db, &domain.Message{ID: "m2", ConversationID: "c1", Role: domain.RoleAssistant, Content: "b", Timestamp: now, Order: 2, TokensUsed: intp(30)})
	_ = CreateMessage(ctx, db, &domain.Message{ID: "m3", ConversationID: "c1", Role: domain.RoleUser, Content: "c", Timestamp: now, Order: 3})

	n, maxOrder, tokens, err := MessagesStats(ctx, db, "c1")
	if err != nil {
		t.Fatalf("MessagesStats: %v", err)
	}
	if n != 3 || maxOrder != 3 || tokens != 42 {
		t.Fatalf("stats = (%d, %d, %d); want (3, 3, 42)", n, maxOrder, tokens)
	}

	n, maxOrder, tokens, err = MessagesStats(ctx, db, "none")
	if err != nil || n != 0 || maxOrder != 0 || tokens != 0 {
		t.Fatalf("empty stats = (%d, %d, %d, %v)", n, maxOrder, tokens, err)
	}
}
