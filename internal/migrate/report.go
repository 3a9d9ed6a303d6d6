package migrate

import (
	"fmt"
	"strings"
)

// Skip describes a legacy row that was not imported.
type Skip struct {
	Table  string
	ID     string
	Reason string
}

// Report summarises a migration run.
type Report struct {
	OwnerID      string
	OwnerCreated bool
	DryRun       bool

	ConversationsMigrated int
	MessagesMigrated      int

	// Rows whose id was already imported by an earlier run.
	ConversationsPresent int
	MessagesPresent      int

	Skipped []Skip
}

func (r *Report) skip(table, id string, err error) {
	r.Skipped = append(r.Skipped, Skip{Table: table, ID: id, Reason: err.Error()})
}

// String renders the one-line summary, e.g.
// "1 conversation, 2 messages migrated, 0 skipped".
func (r *Report) String() string {
	return fmt.Sprintf("%s, %s migrated, %d skipped",
		plural(r.ConversationsMigrated, "conversation"),
		plural(r.MessagesMigrated, "message"),
		len(r.Skipped))
}

// Details lists already-present counts and skip reasons, one per line.
func (r *Report) Details() string {
	var b strings.Builder
	if r.ConversationsPresent > 0 || r.MessagesPresent > 0 {
		fmt.Fprintf(&b, "already present: %s, %s\n",
			plural(r.ConversationsPresent, "conversation"),
			plural(r.MessagesPresent, "message"))
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "skipped %s %s: %s\n", s.Table, s.ID, s.Reason)
	}
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
