// Package events defines the event types and payload shapes published on
// the gateway's internal EventBus.
package events

// EventType identifies the kind of event carried by an Event.
type EventType string

const (
	// Connection lifecycle.
	EventConnectionAccepted EventType = "connection_accepted"
	EventConnectionClosed   EventType = "connection_closed"
	EventConnectionBanned   EventType = "connection_banned"

	// Authentication outcomes.
	EventAuthSucceeded EventType = "auth_succeeded"
	EventAuthFailed    EventType = "auth_failed"

	// Admission.
	EventQueued         EventType = "queued"
	EventDequeued       EventType = "dequeued"
	EventPopulationGrew EventType = "population_grew"
	EventPopulationFell EventType = "population_fell"

	// Patch resolution.
	EventPatchOffered  EventType = "patch_offered"
	EventPatchNotFound EventType = "patch_not_found"

	// Telemetry survey.
	EventSurveyOffered   EventType = "survey_offered"
	EventSurveyCompleted EventType = "survey_completed"

	// Config / system.
	EventBanListReloaded EventType = "ban_list_reloaded"
	EventShutdown        EventType = "shutdown"
	EventHeartbeat       EventType = "heartbeat"
	EventDiskAlert       EventType = "disk_alert"
)

// AuthResult mirrors the SMSG_AUTH_RESPONSE result codes sent to the client.
type AuthResult uint8

const (
	AuthOK             AuthResult = 0x0C
	AuthBadServerProof AuthResult = 0x01
	AuthUnknownAccount AuthResult = 0x04
	AuthAlreadyOnline  AuthResult = 0x03
	AuthSystemError    AuthResult = 0x06
	AuthBanned         AuthResult = 0x0D
)

// authResultStrings maps AuthResult values to their log-friendly names.
var authResultStrings = map[AuthResult]string{
	AuthOK:             "ok",
	AuthBadServerProof: "bad_server_proof",
	AuthUnknownAccount: "unknown_account",
	AuthAlreadyOnline:  "already_online",
	AuthSystemError:    "system_error",
	AuthBanned:         "banned",
}

// String returns the log-friendly name of the result code.
func (r AuthResult) String() string {
	if s, ok := authResultStrings[r]; ok {
		return s
	}
	return "unknown"
}

// Event is a single message published through the EventBus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionAcceptedPayload is emitted once a connection clears the ban check.
type ConnectionAcceptedPayload struct {
	RemoteAddr string
}

// ConnectionClosedPayload is emitted whenever a connection is torn down,
// carrying the FSM state it was in at close time for accounting audits.
type ConnectionClosedPayload struct {
	RemoteAddr string
	FromState  string
}

// ConnectionBannedPayload is emitted when an accept is rejected by IpBanCache.
type ConnectionBannedPayload struct {
	RemoteAddr string
	Rule       string
}

// AuthOutcomePayload records the result of an authentication attempt.
type AuthOutcomePayload struct {
	Username string
	Result   AuthResult
}

// PopulationPayload carries the population counter after a transition.
type PopulationPayload struct {
	Population int
	Cap        int
}

// QueuePayload carries queue depth after an enqueue/dequeue.
type QueuePayload struct {
	Username string
	Depth    int
}

// PatchOfferPayload records which patch (if any) was offered to a client.
type PatchOfferPayload struct {
	Username  string
	PatchName string
	BuildFrom uint32
	BuildTo   uint32
	Rollup    bool
}

// SurveyResultPayload records a client's CMSG_AUTH_SURVEY_RESULT report.
type SurveyResultPayload struct {
	Username string
	SurveyID uint32
	Ran      bool
}

// HeartbeatPayload carries a periodic snapshot of gateway vitals.
type HeartbeatPayload struct {
	Population int
	QueueDepth int
	Sessions   int
}

// DiskAlertPayload carries a disk-utilization threshold breach.
type DiskAlertPayload struct {
	Path        string
	UsedPercent float64
	FreeGB      uint64
	Level       string
}
