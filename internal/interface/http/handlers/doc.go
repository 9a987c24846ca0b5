// Package handlers contains the reusable pieces of the HTTP interface:
// health probes, middleware, the response envelope and the meeting-platform
// webhook.
//
// # Health Checks
//
// Probes are registered by name and run in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(pool))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddCheck("wallet", handlers.NewBreakerCheck("wallet", guardedWallet))
//
// # Meeting Webhook
//
// MeetingWebhook accepts join/leave deliveries:
//
//	POST /webhook/meeting
//	X-Delivery-ID: 7f3c...
//	X-Signature: sha256=<hex hmac of the body>
//
//	{"event":"join","participantIdentity":"u-42","timestamp":"2024-03-04T10:02:00Z","meetingIdentifier":"room-9"}
//
// Every business outcome, including malformed payloads, is acknowledged
// with 200 so the platform does not retry. A repeated delivery ID, or the
// same event content under any delivery ID, answers "duplicate" without
// touching the schedule.
//
// # Authentication
//
// APIKeyAuth compares presented keys against bcrypt hashes. ActorMiddleware
// reads X-Actor-Kind and X-Actor-ID, which the marketplace backend sets
// for the end user it authenticated.
package handlers
