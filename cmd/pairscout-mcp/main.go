package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scrapeRequest mirrors the pairscout API request model.
type scrapeRequest struct {
	Chain         string `json:"chain,omitempty"`
	RankBy        string `json:"rank_by,omitempty"`
	Order         string `json:"order,omitempty"`
	MinLiquidity  *int   `json:"min_liquidity,omitempty"`
	MaxAgeMinutes *int   `json:"max_age_minutes,omitempty"`
	Output        string `json:"output,omitempty"`
	CacheMaxAgeMs int    `json:"cache_max_age_ms,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// runReport mirrors the pairscout run report.
type runReport struct {
	RunID          string     `json:"run_id"`
	Success        bool       `json:"success"`
	Chain          string     `json:"chain"`
	TargetURL      string     `json:"target_url"`
	Output         string     `json:"output"`
	Contracts      []string   `json:"contracts"`
	ChallengeState string     `json:"challenge_state"`
	ManualFallback bool       `json:"manual_fallback"`
	FetchMethod    string     `json:"fetch_method"`
	Warnings       []apiError `json:"warnings"`
	CacheStatus    string     `json:"cache_status"`
	Error          *apiError  `json:"error"`
}

// challengeStatus mirrors the pairscout challenge status response.
type challengeStatus struct {
	Pending bool      `json:"pending"`
	Prompt  string    `json:"prompt"`
	Since   string    `json:"since"`
	Error   *apiError `json:"error"`
}

func main() {
	apiURL := os.Getenv("PAIRSCOUT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PAIRSCOUT_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PAIRSCOUT_API_KEY is required")
		os.Exit(1)
	}

	s := newServer(strings.TrimRight(apiURL, "/"), apiKey)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(apiURL, apiKey string) *server.MCPServer {
	s := server.NewMCPServer(
		"pairscout",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape_new_pairs",
		mcp.WithDescription("Scrape the DexScreener new-pairs listing for a chain and return the pair contract identifiers. "+
			"If a verification challenge needs a human, the call blocks until confirm_challenge is called."),
		mcp.WithString("chain",
			mcp.Description("Chain identifier, e.g. 'ethereum' (default), 'bsc', 'base'"),
		),
		mcp.WithString("rank_by",
			mcp.Description("Ranking column (default: 'trendingScoreH6')"),
		),
		mcp.WithString("order",
			mcp.Description("Sort order (default: 'desc')"),
			mcp.Enum("asc", "desc"),
		),
		mcp.WithNumber("min_liquidity",
			mcp.Description("Minimum pair liquidity in USD (default: 25000)"),
		),
		mcp.WithNumber("max_age_minutes",
			mcp.Description("Maximum pair age in minutes (default: 720)"),
		),
		mcp.WithString("output",
			mcp.Description("Output target on the server: file path or postgres:// DSN (default: '{chain}_contracts.txt')"),
		),
		mcp.WithNumber("cache_max_age_ms",
			mcp.Description("Serve a cached result no older than this many milliseconds (default: 0, no cache)"),
		),
	)
	s.AddTool(scrapeTool, handleScrape(apiURL, apiKey))

	statusTool := mcp.NewTool("challenge_status",
		mcp.WithDescription("Report whether a scrape is waiting for a human to complete a verification challenge in the browser window."),
	)
	s.AddTool(statusTool, handleChallengeStatus(apiURL, apiKey))

	confirmTool := mcp.NewTool("confirm_challenge",
		mcp.WithDescription("Signal that the verification challenge has been completed in the browser window, resuming the waiting scrape."),
	)
	s.AddTool(confirmTool, handleConfirmChallenge(apiURL, apiKey))

	return s
}

// apiCall sends a request to the pairscout API and returns the response body.
func apiCall(ctx context.Context, client *http.Client, method, apiURL, apiKey, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// optionalInt returns nil when key is absent so the server default applies;
// an explicit 0 is forwarded.
func optionalInt(request mcp.CallToolRequest, key string) *int {
	if _, ok := request.GetArguments()[key]; !ok {
		return nil
	}
	v := request.GetInt(key, 0)
	return &v
}

func handleScrape(apiURL, apiKey string) server.ToolHandlerFunc {
	// No client timeout: a manual challenge wait has no upper bound.
	client := &http.Client{}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqBody := scrapeRequest{
			Chain:         request.GetString("chain", ""),
			RankBy:        request.GetString("rank_by", ""),
			Order:         request.GetString("order", ""),
			MinLiquidity:  optionalInt(request, "min_liquidity"),
			MaxAgeMinutes: optionalInt(request, "max_age_minutes"),
			Output:        request.GetString("output", ""),
			CacheMaxAgeMs: request.GetInt("cache_max_age_ms", 0),
		}

		respBody, err := apiCall(ctx, client, http.MethodPost, apiURL, apiKey, "/api/v1/scrape", reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var report runReport
		if err := json.Unmarshal(respBody, &report); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !report.Success {
			errMsg := "scrape failed"
			if report.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", report.Error.Code, report.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(formatReport(&report)), nil
	}
}

func formatReport(r *runReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Chain: %s\nSource: %s\nOutput: %s\n", r.Chain, r.TargetURL, r.Output)
	fmt.Fprintf(&sb, "Challenge: %s", r.ChallengeState)
	if r.ManualFallback {
		sb.WriteString(" (manual)")
	}
	fmt.Fprintf(&sb, "\nFetched via: %s", r.FetchMethod)
	if r.CacheStatus != "" {
		fmt.Fprintf(&sb, " (cache %s)", r.CacheStatus)
	}
	fmt.Fprintf(&sb, "\n\n%d contracts:\n", len(r.Contracts))
	for _, c := range r.Contracts {
		sb.WriteString(c)
		sb.WriteByte('\n')
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("\n---\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&sb, "- [%s] %s\n", w.Code, w.Message)
		}
	}
	return sb.String()
}

func handleChallengeStatus(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiCall(ctx, client, http.MethodGet, apiURL, apiKey, "/api/v1/challenge", nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var st challengeStatus
		if err := json.Unmarshal(respBody, &st); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if st.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", st.Error.Code, st.Error.Message)), nil
		}
		if !st.Pending {
			return mcp.NewToolResultText("No scrape is waiting for challenge confirmation."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Waiting since %s.\n%s", st.Since, st.Prompt)), nil
	}
}

func handleConfirmChallenge(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiCall(ctx, client, http.MethodPost, apiURL, apiKey, "/api/v1/challenge/ack", nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var st challengeStatus
		if err := json.Unmarshal(respBody, &st); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if st.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", st.Error.Code, st.Error.Message)), nil
		}
		return mcp.NewToolResultText("Challenge confirmed; the scrape is resuming."), nil
	}
}
