// Package mcp provides the Model Context Protocol surface for ValueSort.
//
// The mcp package implements:
//   - MCP server for AI-assisted workshop facilitation
//   - Tool definitions for session and deck operations
//   - A thin HTTP client proxying every tool call to the REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
// The package exposes the following tools for facilitators:
//   - create_session: Create a workshop session with optional deck and limits
//   - get_session: Get a session's participant roster and timeout status
//   - list_sessions: List all active sessions
//   - session_timeout: Check how much time a session has left
//   - cleanup_sessions: Remove expired sessions immediately
//   - list_decks: List the card decks available for new sessions
//   - facilitation_instructions: Get the full facilitation guide
//
// Transport Modes:
//
// The server supports two transport modes:
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: HTTP endpoint for remote MCP integration
//
// Proxy Design:
//
// The client holds no workshop state of its own. Every tool call becomes a
// REST request against the running API server, so an MCP facilitator and web
// participants always see the same sessions. Error envelopes from the API are
// unwrapped into tool error results.
//
// Usage:
//
//	// HTTP mode, mounted next to the REST API
//	client := mcp.NewClient("http://localhost:8080")
//	mcpServer := client.GetMCPServer()
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
//
// AI Integration:
//
// The MCP interface enables an AI facilitator to:
//   - Set up sessions sized to the group before a workshop
//   - Watch the roster and nudge participants stuck on a step
//   - Keep an eye on session timeouts during long discussions
//   - Clean up expired sessions afterwards
package mcp
