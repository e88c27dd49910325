// Package api implements the HTTP REST API and WebSocket server for Gatehouse.
//
// This package provides:
//   - REST endpoints for authentication, account administration, session
//     management, and the audit trail
//   - WebSocket hub for real-time security event broadcasts
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between operator consoles (web admin, facility
// dashboards, mobile apps) and the account store + event sinks. Auth flows
// produce security events which the EventFanout distributes to the audit
// trail, WebSocket subscribers, the MQTT bus, and InfluxDB telemetry.
//
// # Security
//
// Authentication uses JWT access tokens with server-side refresh sessions.
// WebSocket connections use single-use tickets to prevent token leakage in
// URLs; each ticket carries the identity of the account that minted it, and
// channel subscriptions are authorized against that identity.
//
// # Graceful Degradation
//
// The server operates without MQTT and InfluxDB — events still reach the
// audit trail and WebSocket subscribers. This enables testing and partial
// operation.
//
// See docs/interfaces/api.md for the full API specification.
package api
