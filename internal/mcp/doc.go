// Package mcp exposes recipe runs over the Model Context Protocol.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers three tools:
//   - solve: run a goal through plan, critique and execute
//   - list_tools: describe the tools a plan may use
//   - list_rulesets: describe the named rule sets
//
// A failed run is returned as a tool result with IsError set; the
// structured output still carries the failure kind and step.
package mcp
