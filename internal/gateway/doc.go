// Package gateway implements the MCP JSON-RPC 2.0 front-end: session
// tracking, and routing of initialize/tools-list/tools-call to the admin
// toolset or the backend registry, plus the thin outer HTTP shell that
// carries JSON-RPC bodies over plain HTTP POST.
package gateway
