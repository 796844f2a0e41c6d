// Package engine fetches listing documents without a browser. It backs the
// "auto" fetch mode: one Chrome-fingerprinted GET is tried first, and hosts
// that turned out to need a real browser are remembered for a while.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Fetcher retrieves a document over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest describes one prefetch.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// FetchResult is a fetched HTML document.
type FetchResult struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
}

// StatusError reports a response that was not usable HTML.
type StatusError struct {
	StatusCode  int
	ContentType string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine: unusable response: status %d (content-type: %s)", e.StatusCode, e.ContentType)
}

// HostOf returns the hostname of rawURL, or rawURL itself if it does not
// parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
