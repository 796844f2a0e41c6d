// Package diagnostics writes snapshots of pages that confused the
// detection heuristics, so the indicator and selector lists can be revised
// against real markup.
package diagnostics

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/use-agent/pairscout/detect"
)

// Dump reasons.
const (
	ReasonManualWait     = "manual-wait"
	ReasonZeroContracts  = "zero-contracts"
	ReasonPrefetchReject = "prefetch-rejected"
)

// Files names the artifacts written for one dump.
type Files struct {
	HTML     string
	Markdown string
}

// Dumper writes snapshot dumps into a directory. A nil *Dumper is valid
// and discards everything.
type Dumper struct {
	dir   string
	rules *detect.Rules
	conv  *converter.Converter
	now   func() time.Time

	mu  sync.Mutex
	seq int
}

// NewDumper returns a Dumper writing into dir, or nil when dir is empty.
// rules annotate each dump with the signals that matched; nil uses the
// defaults.
func NewDumper(dir string, rules *detect.Rules) *Dumper {
	if dir == "" {
		return nil
	}
	if rules == nil {
		rules = detect.DefaultRules()
	}
	return &Dumper{
		dir:   dir,
		rules: rules,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
			),
		),
		now: time.Now,
	}
}

var unsafeReason = regexp.MustCompile(`[^a-z0-9-]+`)

// Dump writes <ts>-<reason>.html and .md for snap.
func (d *Dumper) Dump(reason string, snap detect.Snapshot) (Files, error) {
	if d == nil {
		return Files{}, nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("diagnostics: create dir: %w", err)
	}

	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	reason = strings.Trim(unsafeReason.ReplaceAllString(strings.ToLower(reason), "-"), "-")
	if reason == "" {
		reason = "snapshot"
	}
	stem := filepath.Join(d.dir, fmt.Sprintf("%s-%03d-%s", d.now().UTC().Format("20060102T150405"), seq, reason))
	files := Files{HTML: stem + ".html", Markdown: stem + ".md"}

	if err := os.WriteFile(files.HTML, []byte(snap.Markup), 0o644); err != nil {
		return Files{}, fmt.Errorf("diagnostics: write html: %w", err)
	}
	if err := os.WriteFile(files.Markdown, []byte(d.report(reason, snap)), 0o644); err != nil {
		return Files{}, fmt.Errorf("diagnostics: write markdown: %w", err)
	}

	slog.Info("diagnostic snapshot written", "reason", reason, "html", files.HTML, "markdown", files.Markdown)
	return files, nil
}

// report renders the markdown companion: a header with what the detector
// saw, then the page itself as markdown.
func (d *Dumper) report(reason string, snap detect.Snapshot) string {
	sum := Summarize(snap.Markup, snap.URL)
	signals, err := d.rules.ContentSignals(snap)

	var b strings.Builder
	title := sum.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- reason: %s\n", reason)
	fmt.Fprintf(&b, "- url: %s\n", snap.URL)
	fmt.Fprintf(&b, "- url accepted: %t\n", d.rules.ValidURL(snap.URL))
	fmt.Fprintf(&b, "- challenge indicators: %s\n", joinOrNone(d.rules.MatchedIndicators(snap)))
	if err != nil {
		fmt.Fprintf(&b, "- content signals: error: %v\n", err)
	} else {
		fmt.Fprintf(&b, "- content signals: %s\n", joinOrNone(signals))
	}
	if sum.Excerpt != "" {
		fmt.Fprintf(&b, "- excerpt: %s\n", sum.Excerpt)
	}
	b.WriteString("\n---\n\n")

	md, err := d.conv.ConvertString(snap.Markup, converter.WithDomain(snap.URL))
	if err != nil {
		fmt.Fprintf(&b, "_markdown conversion failed: %v_\n", err)
	} else {
		b.WriteString(md)
		b.WriteString("\n")
	}
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
