package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/go-chat-history/internal/services"
)

func fastPolicy(tries uint) Policy {
	return Policy{MaxTries: tries, InitialInterval: time.Millisecond}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("%w: locked", services.ErrTransientStore)
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Do = %d, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), "test", func() (int, error) {
		calls++
		return 0, services.ErrForbidden
	})
	if !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("err = %v; want ErrForbidden", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestDo_GivesUpAfterMaxTries(t *testing.T) {
	calls := 0
	err := Run(context.Background(), fastPolicy(2), "test", func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || !IsTransient(err) {
		t.Fatalf("err = %v; want the last transient error", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d; want 2", calls)
	}
}

func TestDo_CustomRetryable(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	p := fastPolicy(3)
	p.Retryable = func(err error) bool { return errors.Is(err, boom) }
	_ = Run(context.Background(), p, "test", func() error {
		calls++
		return boom
	})
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}
