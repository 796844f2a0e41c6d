package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/pairscout/models"
)

const readyComplete = "complete"

// WaitForLoad polls the session's document ready state every poll until it
// reports "complete" or timeout elapses. On timeout it returns a
// LOAD_TIMEOUT ScrapeError, which callers treat as a soft warning: a
// complete ready state does not prove the listing rendered anyway.
func WaitForLoad(ctx context.Context, sess Session, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	last := ""
	for {
		state, err := sess.ReadyState(waitCtx)
		switch {
		case err == nil && state == readyComplete:
			return nil
		case err == nil:
			last = state
		default:
			slog.Debug("ready state query failed", "error", err)
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return categorizeError(ctx.Err(), models.ErrCodeLoadTimeout, "run cancelled while waiting for load")
			}
			return models.NewScrapeError(
				models.ErrCodeLoadTimeout,
				fmt.Sprintf("document not complete after %s (last state %q)", timeout, last),
				nil,
			)
		}
	}
}

// categorizeError maps context errors to SCRAPE_TIMEOUT and anything else
// to code.
func categorizeError(err error, code, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "run canceled", err)
	default:
		return models.NewScrapeError(code, msg, err)
	}
}
