// Package mcp exposes the document store as MCP tools over stdio.
//
// The server registers search_documents, document_stats and
// ingest_documents, plus analyze_documents when an answerer is configured.
// Search output is scrubbed for secrets before it reaches the client.
package mcp
