package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/valuesort/valuesort/workshop/deck"
	"github.com/valuesort/valuesort/workshop/session"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"ValueSort Workshop",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`ValueSort Workshop - MCP Interface

This is a thin client that proxies all requests to the REST API server.

WORKSHOP OBJECTIVE:
Participants sort a deck of value cards down to the 8, then the 3 values that
matter most to them, and reveal their picks to the group for discussion.

AVAILABLE TOOLS:
- create_session: Create a workshop session (optional deck, limits, custom code)
- get_session: Get a session's roster and timeout status
- list_sessions: List all active sessions
- session_timeout: Check how much time a session has left
- cleanup_sessions: Remove expired sessions immediately
- list_decks: List the card decks available for new sessions
- facilitation_instructions: Get the full facilitation guide

NOTE: Participants join and sort through the web UI; these tools are for the
facilitator running the workshop.`),
	)

	// Register all tools
	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new workshop session with optional deck and limits",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"deck_type": map[string]interface{}{
					"type":        "string",
					"description": "Deck to sort (see list_decks; optional)",
				},
				"max_participants": map[string]interface{}{
					"type":        "integer",
					"description": "Participant cap for the session (optional)",
				},
				"timeout_minutes": map[string]interface{}{
					"type":        "integer",
					"description": "Minutes of inactivity before the session expires (optional)",
				},
				"custom_code": map[string]interface{}{
					"type":        "string",
					"description": "Session code to use instead of a generated one (optional, 6 letters/digits)",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active workshop sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get a session's participant roster and timeout status",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_code": map[string]interface{}{
					"type":        "string",
					"description": "Session code to retrieve",
				},
			},
			Required: []string{"session_code"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "session_timeout",
		Description: "Check how much time a session has left before it expires",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_code": map[string]interface{}{
					"type":        "string",
					"description": "Session code to check",
				},
			},
			Required: []string{"session_code"},
		},
	}, c.handleSessionTimeout)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "cleanup_sessions",
		Description: "Remove expired sessions immediately instead of waiting for the background sweep",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleCleanupSessions)

	// Decks
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_decks",
		Description: "List the card decks available for new sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListDecks)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "facilitation_instructions",
		Description: "Get the comprehensive workshop facilitation guide",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleFacilitationInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})

	body := map[string]interface{}{}
	if deckType, _ := args["deck_type"].(string); deckType != "" {
		body["deckType"] = deckType
	}
	if maxParticipants, ok := args["max_participants"].(float64); ok && maxParticipants > 0 {
		body["maxParticipants"] = int(maxParticipants)
	}
	if timeoutMinutes, ok := args["timeout_minutes"].(float64); ok && timeoutMinutes > 0 {
		body["timeoutMinutes"] = int(timeoutMinutes)
	}
	if customCode, _ := args["custom_code"].(string); customCode != "" {
		body["customCode"] = customCode
	}

	var response struct {
		SessionCode string           `json:"sessionCode"`
		Session     *session.Session `json:"session"`
	}
	err := c.apiCall("POST", "/api/sessions", body, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Created session: %s\n", response.SessionCode)
	if response.Session != nil {
		cfg := response.Session.Config
		fmt.Fprintf(&b, "Deck: %s\nMax participants: %d\nTimeout: %d minutes\n",
			cfg.DeckType, cfg.MaxParticipants, cfg.TimeoutMinutes)
	}
	b.WriteString("\nShare the code with participants so they can join.")
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                `json:"count"`
		Sessions []*session.Session `json:"sessions"`
	}

	err := c.apiCall("GET", "/api/sessions", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No active sessions."), nil
	}

	result := fmt.Sprintf("Active Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		result += fmt.Sprintf("- %s (%d/%d participants, deck: %s, created: %s)\n",
			s.Code, len(s.Participants), s.Config.MaxParticipants,
			s.Config.DeckType, s.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	sessionCode, _ := args["session_code"].(string)

	var response struct {
		Session     *session.Session     `json:"session"`
		TimeoutInfo *session.TimeoutInfo `json:"timeoutInfo"`
	}
	err := c.apiCall("GET", fmt.Sprintf("/api/sessions/%s", sessionCode), nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := formatSession(response.Session, response.TimeoutInfo)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleSessionTimeout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	sessionCode, _ := args["session_code"].(string)

	var response struct {
		Session     *session.Session     `json:"session"`
		TimeoutInfo *session.TimeoutInfo `json:"timeoutInfo"`
	}
	err := c.apiCall("GET", fmt.Sprintf("/api/sessions/%s", sessionCode), nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	code := sessionCode
	if response.Session != nil {
		code = response.Session.Code
	}
	result := formatTimeout(code, response.TimeoutInfo)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleCleanupSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Removed []string `json:"removed"`
		Count   int      `json:"count"`
	}

	err := c.apiCall("POST", "/api/cleanup", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No expired sessions to remove."), nil
	}

	result := fmt.Sprintf("Removed %d expired session(s): %s",
		response.Count, strings.Join(response.Removed, ", "))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListDecks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count int          `json:"count"`
		Decks []*deck.Info `json:"decks"`
	}

	err := c.apiCall("GET", "/api/decks", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Available Decks (%d):\n\n", response.Count)
	for _, d := range response.Decks {
		result += fmt.Sprintf("• %s (id: %s, %d cards)\n", d.Name, d.DeckID, d.CardCount)
		if d.Description != "" {
			result += fmt.Sprintf("  %s\n", d.Description)
		}
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleFacilitationInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `🃏 ValueSort Workshop - Facilitation Guide

WORKSHOP OBJECTIVE:
Help each participant discover the handful of personal values that actually
drive their decisions, by sorting a deck of value cards down to a top 8 and
finally a top 3, then sharing the results with the group.

WORKSHOP FLOW:
1. Open sort - participants spread the full deck and group cards into piles
   (typically "matters", "somewhat", "not me"). No limits yet; the goal is a
   first gut reaction to every card.
2. Top 8 - participants narrow their "matters" pile to the 8 values they would
   defend in a hard trade-off. This is where the real prioritizing starts.
3. Top 3 - participants cut the 8 down to 3. Expect resistance; the squeeze is
   the point. Remind the group that dropping a card does not mean the value is
   unimportant, only that another one wins in a conflict.
4. Reveal - participants reveal their top 8 and top 3 to the group. Reveals
   are per-participant and voluntary; nobody sees unrevealed picks.
5. Discussion - compare picks, surprises, and overlaps. Close by asking each
   participant where one of their top 3 values showed up in the last month.

SESSION MECHANICS:
• Sessions are identified by a short code (e.g. ABC123) that participants use
  to join. Share the code at the start; joins are open until the session is
  full.
• A session expires after its configured inactivity timeout. Any participant
  activity (sorting, heartbeats) extends it, so an engaged group never times
  out mid-exercise.
• A session in its warning window pushes a warning to connected observers.
  Use session_timeout to check the clock if the group is deep in discussion.
• If a participant drops, they can rejoin from the same browser and continue
  where they left off. Their sorting state is kept on the server per step.
• The session is deleted when the last participant leaves.

FACILITATION TIPS:
• Keep the open sort fast (5-7 minutes). Overthinking the first pass makes
  the top-8 cut harder, not easier.
• Narrations beat silence: ask participants to say one sentence about the
  hardest card they dropped at each cut.
• Reveals work best one participant at a time. Ask the group to guess a
  person's top 3 before they reveal it.
• Watch the roster with get_session: participants stuck on the same step for
  a long time usually want help narrowing, not more time.

TOOL USAGE:
- Before the workshop: list_decks to pick a deck, then create_session with
  deck_type, max_participants and timeout_minutes sized to the group.
- During: get_session for the live roster (step and reveal status per
  participant), session_timeout when discussion runs long.
- After: cleanup_sessions to clear out anything that expired.

Good facilitating! The deck is only a prop; the conversation is the workshop.`

	return mcp.NewToolResultText(instructions), nil
}

// Formatting helpers

func formatSession(sess *session.Session, info *session.TimeoutInfo) string {
	if sess == nil {
		return "No session data available"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nDeck: %s\nCreated: %s\nParticipants: %d/%d\n",
		sess.Code, sess.Config.DeckType,
		sess.CreatedAt.Format("2006-01-02 15:04:05"),
		len(sess.Participants), sess.Config.MaxParticipants)

	if info != nil {
		fmt.Fprintf(&b, "Time remaining: %s\n", formatRemaining(info.TimeRemaining))
		if info.IsWarning {
			b.WriteString("⚠️ Session is close to timing out\n")
		}
	}

	if len(sess.Participants) == 0 {
		b.WriteString("\n(no participants yet)")
		return b.String()
	}

	b.WriteString("\n")
	for _, p := range sess.Participants {
		fmt.Fprintf(&b, "- %s: step %d, %s", p.Name, p.CurrentStep, p.Status)
		if p.Revealed.Top8 {
			fmt.Fprintf(&b, ", top 8 revealed (%d cards)", len(p.Top8Cards))
		}
		if p.Revealed.Top3 {
			fmt.Fprintf(&b, ", top 3 revealed (%d cards)", len(p.Top3Cards))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func formatTimeout(code string, info *session.TimeoutInfo) string {
	if info == nil {
		return fmt.Sprintf("Session %s: no timeout information available", code)
	}
	if info.IsExpired {
		return fmt.Sprintf("Session %s has expired.", code)
	}

	result := fmt.Sprintf("Session %s: %s remaining", code, formatRemaining(info.TimeRemaining))
	if info.IsWarning {
		result += "\n⚠️ Close to timing out. Any participant activity extends the session."
	}
	return result
}

// formatRemaining renders a millisecond budget as a compact duration.
func formatRemaining(ms int64) string {
	if ms <= 0 {
		return "0s"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
