package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/sessionstate"
	"github.com/aretw0/sessionstate/internal/presentation/tui"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/ports"
)

// withStore opens the configured store for a single command.
func withStore(ctx context.Context, opts Options, fn func(ports.SessionStore) error) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	store, closeStore, err := OpenStore(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	secured, err := sessionstate.SecureStore(cfg, store)
	if err != nil {
		return err
	}
	return fn(secured)
}

// InspectSession prints the items of a session.
// Terminals get rendered markdown, anything else gets JSON.
// Like any host read, inspecting refreshes the session expiry.
func InspectSession(ctx context.Context, opts Options, w io.Writer, id string) error {
	return withStore(ctx, opts, func(store ports.SessionStore) error {
		res, err := store.GetItem(ctx, id)
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", id, err)
		}
		if res.Record == nil && !res.Locked {
			return fmt.Errorf("error loading session '%s': %w", id, domain.ErrSessionNotFound)
		}
		ttl, err := store.GetRemainingTTL(ctx, id)
		if err != nil {
			return fmt.Errorf("error reading ttl of '%s': %w", id, err)
		}

		summary := tui.Summarize(id, res, ttl)
		if opts.JSON || !isTerminal(w) {
			return writeJSON(w, summary)
		}

		out, err := tui.NewRenderer()(tui.SessionMarkdown(summary))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}

// SessionTTL prints the remaining lifetime of a session.
func SessionTTL(ctx context.Context, opts Options, w io.Writer, id string) error {
	return withStore(ctx, opts, func(store ports.SessionStore) error {
		ttl, err := store.GetRemainingTTL(ctx, id)
		if err != nil {
			return fmt.Errorf("error reading ttl of '%s': %w", id, err)
		}
		if opts.JSON {
			return writeJSON(w, map[string]string{"id": id, "remaining": tui.FormatTTL(ttl)})
		}
		fmt.Fprintf(w, "%s\t%s\n", id, tui.FormatTTL(ttl))
		return nil
	})
}

// ErrRemoveFailed is returned when at least one session could not be removed.
var ErrRemoveFailed = errors.New("failed to remove sessions")

// RemoveSessions deletes each session after taking its exclusive lock.
// Sessions held by another request are reported and skipped.
func RemoveSessions(ctx context.Context, opts Options, w io.Writer, ids ...string) error {
	return withStore(ctx, opts, func(store ports.SessionStore) error {
		failed := 0
		for _, id := range ids {
			if err := removeSession(ctx, store, id); err != nil {
				printFailure(w, "Error removing '%s': %v", id, err)
				failed++
				continue
			}
			printSystemMessage(w, "Removed session '%s'", id)
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d", ErrRemoveFailed, failed, len(ids))
		}
		return nil
	})
}

func removeSession(ctx context.Context, store ports.SessionStore, id string) error {
	res, err := store.GetItemExclusive(ctx, id)
	if err != nil {
		return err
	}
	if res.Locked {
		return fmt.Errorf("%w: locked for %s", domain.ErrLockNotHeld, res.LockAge)
	}
	if res.Record == nil {
		return domain.ErrSessionNotFound
	}
	return store.RemoveItem(ctx, id, res.LockID)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
