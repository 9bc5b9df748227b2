// Package inbound receives signed marketplace webhook deliveries on the
// tenant side.
//
// Deliveries are claimed by event id with claim/complete/fail semantics, so
// a redelivery after a transient handler failure is processed again while a
// redelivery of a handled event is acknowledged without calling the handler.
package inbound
