package scraper

import "context"

// Session is an exclusively owned handle to one browser instance. It is
// used by exactly one run and released exactly once.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	Markup(ctx context.Context) (string, error)
	Release() error
}

// Provider creates sessions. On failure it may still return a non-nil
// Session for whatever was partially set up; the caller releases it.
type Provider interface {
	Create(ctx context.Context) (Session, error)
}
