// Package relay is the HTTP edge of spawn-relay.
//
// # Overview
//
// Two WebSocket endpoints admit authenticated connections into relay rooms:
//
//	GET /v1/agent   agent-host connection (at most one per identity)
//	GET /v1/app     companion-app connection (any number per identity)
//
// Both require a bearer JWT whose role claim matches the endpoint. A valid
// token for an identity that has since been deleted yields 404.
//
// Inbound frames are normalized (missing id/ts filled, type required) and
// routed through the identity's room. Malformed frames are dropped without
// closing the connection. Ping frames are answered directly with a pong
// carrying the request's correlation ID.
//
// # Administrative Surface
//
// A static-token REST API provisions identities and manages their lifecycle:
//
//	POST   /admin/identities              create identity, issue token pair
//	GET    /admin/identities              list identities
//	GET    /admin/identities/{id}         identity record plus live room status
//	PUT    /admin/identities/{id}/policy  replace policy, push to agent
//	POST   /admin/identities/{id}/tokens  rotate tokens, disconnect all sockets
//	DELETE /admin/identities/{id}         delete identity, tear down room
//
// Configuring an empty admin token disables the surface entirely.
package relay
