package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/observability"
	"github.com/tbourn/go-chat-history/internal/repo"
	"github.com/tbourn/go-chat-history/internal/retry"
	"github.com/tbourn/go-chat-history/internal/services"
)

const (
	// PlaceholderTitle replaces blank legacy titles.
	PlaceholderTitle = "Migrated Conversation"

	// OriginalMetadataKey holds legacy metadata that was not valid JSON.
	OriginalMetadataKey = "original_metadata"

	// Defaults for the fallback owner.
	DefaultUsername = "migrated_user"
	DefaultEmail    = "migrated@example.com"
	DefaultPassword = "change_this_password_123"
)

// Options configures a Migrator.
type Options struct {
	Username string
	Email    string
	Password string

	// DryRun reads and validates every row without writing.
	DryRun bool
	// Retry bounds retries of transient failures per row.
	Retry retry.Policy
	// Now is the clock for rows with unreadable timestamps; nil means time.Now.
	Now func() time.Time
}

// Migrator imports a legacy store into the persistence store.
type Migrator struct {
	DB     *gorm.DB
	Users  *services.UserService
	Source Source
	Opts   Options

	// blank is set for dry runs against a target without the schema; every
	// row then counts as new.
	blank bool
}

// SchemaReady reports whether db already has the tables a migration writes.
func SchemaReady(db *gorm.DB) bool {
	if db == nil {
		return false
	}
	mg := db.Migrator()
	return mg.HasTable(&domain.User{}) && mg.HasTable(&domain.Conversation{}) && mg.HasTable(&domain.Message{})
}

// outcome of a single row.
type outcome int

const (
	migrated outcome = iota
	present
)

// Run performs the migration. It returns an error only when the migration
// cannot start (legacy store unreadable, fallback owner unavailable); row
// failures are recorded in the report.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	opts := m.defaults()
	rep := &Report{DryRun: opts.DryRun}
	if !opts.DryRun && m.DB == nil {
		return nil, errors.New("migrate: no target store")
	}
	m.blank = opts.DryRun && !SchemaReady(m.DB)

	convs, err := m.Source.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := m.Source.Messages(ctx)
	if err != nil {
		return nil, err
	}

	ownerID, err := m.owner(ctx, opts, rep)
	if err != nil {
		return nil, fmt.Errorf("fallback owner: %w", err)
	}
	rep.OwnerID = ownerID

	// Conversations whose messages may be imported.
	ours := make(map[string]bool, len(convs))
	for _, c := range convs {
		var res outcome
		err := retry.Run(ctx, opts.Retry, "migrate.conversation", func() error {
			var rerr error
			res, rerr = m.conversation(ctx, opts, ownerID, c)
			return rerr
		})
		switch {
		case err != nil:
			rep.skip("conversation", c.ID, err)
			observability.MigrationRow("conversations", "skipped")
			log.Warn().Str("conversation_id", c.ID).Err(err).Msg("legacy conversation skipped")
		case res == present:
			ours[c.ID] = true
			rep.ConversationsPresent++
			observability.MigrationRow("conversations", "present")
			log.Info().Str("conversation_id", c.ID).Msg("legacy conversation already migrated")
		default:
			ours[c.ID] = true
			rep.ConversationsMigrated++
			observability.MigrationRow("conversations", "migrated")
		}
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].ConversationID != msgs[j].ConversationID {
			return msgs[i].ConversationID < msgs[j].ConversationID
		}
		return legacyOrder(msgs[i]) < legacyOrder(msgs[j])
	})
	for _, lm := range msgs {
		if !ours[lm.ConversationID] {
			rep.skip("message", lm.ID, fmt.Errorf("%w: conversation %q was not migrated", services.ErrUnknownConversation, lm.ConversationID))
			observability.MigrationRow("messages", "skipped")
			continue
		}
		var res outcome
		err := retry.Run(ctx, opts.Retry, "migrate.message", func() error {
			var rerr error
			res, rerr = m.message(ctx, opts, lm)
			return rerr
		})
		switch {
		case err != nil:
			rep.skip("message", lm.ID, err)
			observability.MigrationRow("messages", "skipped")
			log.Warn().Str("message_id", lm.ID).Err(err).Msg("legacy message skipped")
		case res == present:
			rep.MessagesPresent++
			observability.MigrationRow("messages", "present")
			log.Info().Str("message_id", lm.ID).Msg("legacy message already migrated")
		default:
			rep.MessagesMigrated++
			observability.MigrationRow("messages", "migrated")
		}
	}

	log.Info().
		Str("owner_id", ownerID).
		Bool("dry_run", opts.DryRun).
		Int("conversations", rep.ConversationsMigrated).
		Int("messages", rep.MessagesMigrated).
		Int("skipped", len(rep.Skipped)).
		Msg("migration finished")
	return rep, nil
}

func (m *Migrator) defaults() Options {
	o := m.Opts
	if strings.TrimSpace(o.Username) == "" {
		o.Username = DefaultUsername
	}
	if strings.TrimSpace(o.Email) == "" {
		o.Email = DefaultEmail
	}
	if o.Password == "" {
		o.Password = DefaultPassword
	}
	if o.Retry.MaxTries == 0 {
		o.Retry = retry.DefaultPolicy()
	}
	if o.Retry.Retryable == nil {
		o.Retry.Retryable = retry.IsTransient
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// owner creates or reuses the fallback user. In dry-run mode it only looks
// the user up.
func (m *Migrator) owner(ctx context.Context, o Options, rep *Report) (string, error) {
	if o.DryRun {
		if m.blank {
			return "", nil
		}
		u, err := repo.GetUserByUsername(ctx, m.DB, o.Username)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}

	res, err := retry.Do(ctx, o.Retry, "migrate.owner", func() (ownerResult, error) {
		u, created, err := m.Users.EnsureUser(ctx, o.Username, o.Email, o.Password)
		return ownerResult{u, created}, err
	})
	if err != nil {
		return "", err
	}
	u, created := res.u, res.created
	rep.OwnerCreated = created
	if created {
		log.Warn().
			Str("username", u.Username).
			Str("user_id", u.ID).
			Msg("fallback owner created with the default password; change it after the first login")
	} else {
		log.Info().Str("username", u.Username).Str("user_id", u.ID).Msg("reusing fallback owner")
	}
	return u.ID, nil
}

// conversation imports one legacy conversation under ownerID.
func (m *Migrator) conversation(ctx context.Context, o Options, ownerID string, lc LegacyConversation) (outcome, error) {
	if strings.TrimSpace(lc.ID) == "" {
		return 0, fmt.Errorf("%w: empty id", services.ErrMalformedRow)
	}

	if !m.blank {
		existing, err := repo.GetConversation(ctx, m.DB, lc.ID)
		switch {
		case err == nil && existing.UserID == ownerID:
			return present, nil
		case err == nil:
			return 0, fmt.Errorf("%w: id already used by another owner", services.ErrDuplicateKey)
		case !errors.Is(err, repo.ErrNotFound):
			return 0, err
		}
	}

	title := strings.TrimSpace(lc.Title)
	if title == "" {
		title = PlaceholderTitle
	}
	now := o.Now().UTC().Truncate(time.Microsecond)
	created, ok := parseLegacyTime(lc.CreatedAt)
	if !ok {
		created = now
	}
	updated, ok := parseLegacyTime(lc.UpdatedAt)
	if !ok {
		updated = created
	}
	state := domain.LifecycleActive
	if lc.Deleted() {
		state = domain.LifecycleSoftDeleted
	}

	if o.DryRun {
		return migrated, nil
	}
	err := repo.InsertConversation(ctx, m.DB, &domain.Conversation{
		ID:        lc.ID,
		UserID:    ownerID,
		Title:     title,
		Preview:   lc.Preview,
		CreatedAt: created,
		UpdatedAt: updated,
		Lifecycle: state,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return present, nil
	}
	return migrated, err
}

// message imports one legacy message. Its conversation is known to be ours.
func (m *Migrator) message(ctx context.Context, o Options, lm LegacyMessage) (outcome, error) {
	if strings.TrimSpace(lm.ID) == "" {
		return 0, fmt.Errorf("%w: empty id", services.ErrMalformedRow)
	}
	if !m.blank {
		exists, err := repo.MessageExists(ctx, m.DB, lm.ID)
		if err != nil {
			return 0, err
		}
		if exists {
			return present, nil
		}
	}

	role, ok := domain.ParseRole(strings.TrimSpace(lm.Role))
	if !ok {
		return 0, fmt.Errorf("%w: role %q", services.ErrMalformedRow, lm.Role)
	}
	tokens, err := parseOptionalInt(lm.TokensUsed)
	if err != nil {
		return 0, fmt.Errorf("%w: tokens_used %q", services.ErrMalformedRow, *lm.TokensUsed)
	}
	if tokens != nil && *tokens < 0 {
		return 0, fmt.Errorf("%w: negative tokens_used", services.ErrMalformedRow)
	}

	meta := parseMetadata(lm.Metadata)
	ts, ok := parseLegacyTime(lm.Timestamp)
	if !ok {
		ts = o.Now().UTC().Truncate(time.Microsecond)
		if lm.Timestamp != "" {
			meta["original_timestamp"] = lm.Timestamp
		}
	}

	if o.DryRun {
		return migrated, nil
	}

	msg := &domain.Message{
		ID:             lm.ID,
		ConversationID: lm.ConversationID,
		Role:           role,
		Content:        lm.Content,
		Timestamp:      ts,
		TokensUsed:     tokens,
		Metadata:       meta,
	}
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order := legacyOrder(lm)
		if order > 0 {
			taken, err := repo.OrderTaken(ctx, tx, lm.ConversationID, order)
			if err != nil {
				return err
			}
			if taken {
				order = 0
			}
		}
		if order <= 0 {
			next, err := repo.NextOrder(ctx, tx, lm.ConversationID)
			if err != nil {
				return err
			}
			order = next
		}
		msg.Order = order
		return repo.CreateMessage(ctx, tx, msg)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Another importer raced us to this id.
		if ok, _ := repo.MessageExists(ctx, m.DB, lm.ID); ok {
			return present, nil
		}
	}
	return migrated, err
}

// parseMetadata decodes a legacy metadata payload. Invalid JSON, or JSON that
// is not an object, degrades to a map holding the raw text.
func parseMetadata(raw string) datatypes.JSONMap {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return datatypes.JSONMap{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return datatypes.JSONMap{OriginalMetadataKey: raw}
	}
	return datatypes.JSONMap(out)
}

// legacyOrder returns the legacy message_order, or 0 when absent or invalid.
func legacyOrder(lm LegacyMessage) int {
	n, err := strconv.Atoi(strings.TrimSpace(lm.MessageOrder))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type ownerResult struct {
	u       *domain.User
	created bool
}
