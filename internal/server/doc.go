// Package server is the WebSocket transport of the chat service.
//
// Each connection is authenticated from a bearer token before the upgrade,
// wrapped in a Client that implements chat.Session, and driven by a read pump
// that decodes frames for the coordinator and a write pump that drains the
// client's outbound queue. Health, stats and Prometheus metrics are served on
// the same mux.
package server
