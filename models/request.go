package models

import (
	"fmt"
	"net/url"
	"strings"
)

// Order is the sort direction of the listing.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Request defaults, matching the listing view the scraper was built against.
const (
	DefaultChain         = "ethereum"
	DefaultRankBy        = "trendingScoreH6"
	DefaultOrder         = OrderDesc
	DefaultMinLiquidity  = 25000
	DefaultMaxAgeMinutes = 720
)

// ScrapeRequest describes one scrape run. It is built once and passed by
// value; together with a base URL it fully determines the target page.
type ScrapeRequest struct {
	// Chain is the chain identifier used in the listing path and in
	// contract links (e.g. "ethereum", "bsc").
	Chain string `json:"chain,omitempty" binding:"omitempty,alphanum"`

	// RankBy selects the ranking column (e.g. "trendingScoreH6", "volume").
	RankBy string `json:"rank_by,omitempty"`

	// Order is "asc" or "desc". Default: "desc".
	Order Order `json:"order,omitempty" binding:"omitempty,oneof=asc desc"`

	// MinLiquidity filters out pairs below this liquidity. Default: 25000.
	MinLiquidity int `json:"min_liquidity" binding:"min=0"`

	// MaxAgeMinutes filters out pairs older than this many minutes. Default: 720.
	MaxAgeMinutes int `json:"max_age_minutes" binding:"min=0"`

	// Output names the persistence target: a file path, or a postgres:// DSN.
	// Default: "{chain}_contracts.txt".
	Output string `json:"output,omitempty"`

	// CacheMaxAgeMs enables serving a cached report no older than this
	// (server mode only). 0 disables the cache.
	CacheMaxAgeMs int `json:"cache_max_age_ms,omitempty" binding:"omitempty,min=0"`
}

// NewScrapeRequest returns a request carrying every default. Callers that
// decode or parse user input start from it, so an explicit zero filter
// survives while an absent one keeps its default.
func NewScrapeRequest() ScrapeRequest {
	return ScrapeRequest{
		Chain:         DefaultChain,
		RankBy:        DefaultRankBy,
		Order:         DefaultOrder,
		MinLiquidity:  DefaultMinLiquidity,
		MaxAgeMinutes: DefaultMaxAgeMinutes,
	}
}

// Defaults fills empty string fields and derives Output from Chain. The
// numeric filters are left alone: 0 is a valid filter value.
func (r *ScrapeRequest) Defaults() {
	if r.Chain == "" {
		r.Chain = DefaultChain
	}
	r.Chain = strings.ToLower(r.Chain)
	if r.RankBy == "" {
		r.RankBy = DefaultRankBy
	}
	if r.Order == "" {
		r.Order = DefaultOrder
	}
	if r.Output == "" {
		r.Output = r.Chain + "_contracts.txt"
	}
}

// Validate reports the first invalid field, as an INVALID_INPUT ScrapeError.
func (r ScrapeRequest) Validate() error {
	switch {
	case r.Chain == "":
		return NewScrapeError(ErrCodeInvalidInput, "chain is required", nil)
	case strings.ContainsAny(r.Chain, "/?#"):
		return NewScrapeError(ErrCodeInvalidInput, fmt.Sprintf("invalid chain %q", r.Chain), nil)
	case r.Order != OrderAsc && r.Order != OrderDesc:
		return NewScrapeError(ErrCodeInvalidInput, fmt.Sprintf("invalid order %q: want asc or desc", r.Order), nil)
	case r.MinLiquidity < 0:
		return NewScrapeError(ErrCodeInvalidInput, "min_liquidity must be non-negative", nil)
	case r.MaxAgeMinutes < 0:
		return NewScrapeError(ErrCodeInvalidInput, "max_age_minutes must be non-negative", nil)
	case r.Output == "":
		return NewScrapeError(ErrCodeInvalidInput, "output is required", nil)
	}
	return nil
}

// TargetURL builds the listing URL:
//
//	{base}/new-pairs/{chain}?rankBy={rankBy}&order={order}&minLiq={minLiquidity}&maxAge={maxAgeMinutes}
//
// The parameter order is fixed so the same request always yields the same URL.
func (r ScrapeRequest) TargetURL(baseURL string) string {
	return fmt.Sprintf("%s/new-pairs/%s?rankBy=%s&order=%s&minLiq=%d&maxAge=%d",
		strings.TrimRight(baseURL, "/"),
		url.PathEscape(r.Chain),
		url.QueryEscape(r.RankBy),
		url.QueryEscape(string(r.Order)),
		r.MinLiquidity,
		r.MaxAgeMinutes,
	)
}
