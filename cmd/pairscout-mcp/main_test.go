package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestScrapeTool(t *testing.T) {
	var got scrapeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/scrape" || r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(runReport{
			Success:        true,
			Chain:          "bsc",
			Contracts:      []string{"0xAAA", "0xBBB"},
			ChallengeState: "resolved",
			ManualFallback: true,
			FetchMethod:    "browser",
			Warnings:       []apiError{{Code: "LOAD_TIMEOUT", Message: "slow"}},
		})
	}))
	defer srv.Close()

	res, err := handleScrape(srv.URL, "k")(context.Background(), callTool(map[string]any{
		"chain":         "bsc",
		"min_liquidity": float64(1000),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("IsError = true: %s", toolText(t, res))
	}
	if got.Chain != "bsc" || got.MinLiquidity == nil || *got.MinLiquidity != 1000 {
		t.Errorf("forwarded request = %+v", got)
	}
	if got.MaxAgeMinutes != nil {
		t.Errorf("max_age_minutes forwarded as %d, want absent", *got.MaxAgeMinutes)
	}

	text := toolText(t, res)
	for _, want := range []string{"2 contracts", "0xAAA", "0xBBB", "resolved (manual)", "[LOAD_TIMEOUT] slow"} {
		if !strings.Contains(text, want) {
			t.Errorf("result missing %q:\n%s", want, text)
		}
	}
}

func TestScrapeTool_ZeroFilter(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_ = json.NewEncoder(w).Encode(runReport{Success: true})
	}))
	defer srv.Close()

	_, err := handleScrape(srv.URL, "k")(context.Background(), callTool(map[string]any{
		"min_liquidity": float64(0),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := raw["min_liquidity"]; !ok || v != float64(0) {
		t.Errorf("min_liquidity = %v (present %v), want explicit 0", v, ok)
	}
}

func TestScrapeTool_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(runReport{Error: &apiError{Code: "SESSION_INIT_FAILED", Message: "no chrome"}})
	}))
	defer srv.Close()

	res, _ := handleScrape(srv.URL, "k")(context.Background(), callTool(nil))
	if !res.IsError || !strings.Contains(toolText(t, res), "SESSION_INIT_FAILED") {
		t.Errorf("result = %+v, want SESSION_INIT_FAILED error", res)
	}
}

func TestChallengeTools(t *testing.T) {
	pending := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/challenge":
			_ = json.NewEncoder(w).Encode(challengeStatus{Pending: pending, Prompt: "solve it", Since: "2026-01-01T00:00:00Z"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/challenge/ack":
			if !pending {
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(challengeStatus{Error: &apiError{Code: "NO_PENDING_CHALLENGE", Message: "nothing waiting"}})
				return
			}
			pending = false
			_ = json.NewEncoder(w).Encode(challengeStatus{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	status := handleChallengeStatus(srv.URL, "k")
	confirm := handleConfirmChallenge(srv.URL, "k")

	res, _ := status(ctx, callTool(nil))
	if text := toolText(t, res); !strings.Contains(text, "solve it") {
		t.Errorf("status = %q, want prompt", text)
	}

	res, _ = confirm(ctx, callTool(nil))
	if res.IsError {
		t.Errorf("confirm IsError = true: %s", toolText(t, res))
	}

	res, _ = confirm(ctx, callTool(nil))
	if !res.IsError || !strings.Contains(toolText(t, res), "NO_PENDING_CHALLENGE") {
		t.Errorf("second confirm = %s, want NO_PENDING_CHALLENGE", toolText(t, res))
	}

	res, _ = status(ctx, callTool(nil))
	if text := toolText(t, res); !strings.Contains(text, "No scrape is waiting") {
		t.Errorf("status after confirm = %q", text)
	}
}
