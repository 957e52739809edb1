// Package client provides core.Client transports: an interactive terminal
// client and a JSON-over-HTTP client.
package client
