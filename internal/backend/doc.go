// Package backend implements the two transport adapters the registry
// dispatches against, HttpBackend (JSON-RPC 2.0 over a fresh HTTP client
// per call) and StdioBackend (a subprocess speaking MCP over stdio),
// behind the shared Connection capability set.
package backend
