package diagnostics

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minReadableLength is the TextContent length below which readability is
// assumed to have missed the page body.
const minReadableLength = 50

// Summary is a human-oriented digest of a dumped page.
type Summary struct {
	Title      string
	SiteName   string
	Excerpt    string
	TextLength int
	Readable   bool
}

// Summarize runs readability over markup. A failure is not an error: the
// summary simply comes back with Readable unset.
func Summarize(markup, pageURL string) Summary {
	u, err := nurl.Parse(pageURL)
	if err != nil {
		slog.Debug("diagnostics: invalid page URL", "url", pageURL, "error", err)
		return Summary{}
	}

	article, err := readability.FromReader(strings.NewReader(markup), u)
	if err != nil {
		slog.Debug("diagnostics: readability failed", "url", pageURL, "error", err)
		return Summary{}
	}

	text := strings.TrimSpace(article.TextContent)
	return Summary{
		Title:      strings.TrimSpace(article.Title),
		SiteName:   article.SiteName,
		Excerpt:    strings.TrimSpace(article.Excerpt),
		TextLength: len(text),
		Readable:   len(text) >= minReadableLength,
	}
}
