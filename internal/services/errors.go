package services

import "errors"

var (
	// ErrInvalidArgument marks a malformed request rejected before any
	// state mutation (missing session key, agent id, empty message).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionInManual signals that the session is human-owned and the
	// AI call was blocked. Distinct from a generic failure so the caller
	// can switch its UI affordance instead of retrying.
	ErrSessionInManual = errors.New("session in manual mode")

	// ErrAlreadyClaimed is the lost-race outcome of a takeover attempt:
	// another agent got the session first.
	ErrAlreadyClaimed = errors.New("session already claimed")

	// ErrInvalidTransition is returned when an operation needs a status
	// change the legal table forbids. The session is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAgentReplyNotAllowed rejects agent-authored messages on sessions
	// that are not manual_live.
	ErrAgentReplyNotAllowed = errors.New("agent replies require manual_live")

	// ErrNoAgentAvailable means no reachable agent matched the roster.
	ErrNoAgentAvailable = errors.New("no agent available")
)
