package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/repo"
)

// Mismatch is a legacy conversation whose stored message count differs from
// the legacy one.
type Mismatch struct {
	ConversationID string
	Legacy         int
	Stored         int64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("conversation %s: %d legacy messages, %d stored", m.ConversationID, m.Legacy, m.Stored)
}

// Verify compares per-conversation message counts between src and the target
// store. Conversations that were never imported show up with Stored == 0.
func Verify(ctx context.Context, db *gorm.DB, src Source) ([]Mismatch, error) {
	convs, err := src.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := src.Messages(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]int, len(convs))
	for _, lm := range msgs {
		want[lm.ConversationID]++
	}

	var out []Mismatch
	for _, c := range convs {
		n, _, _, err := repo.MessagesStats(ctx, db, c.ID)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", c.ID, err)
		}
		if n != int64(want[c.ID]) {
			out = append(out, Mismatch{ConversationID: c.ID, Legacy: want[c.ID], Stored: n})
		}
	}
	return out, nil
}
