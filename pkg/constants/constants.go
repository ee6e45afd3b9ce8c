// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package constants

const (
	// not matched reason constants.
	ReasonNotEnoughTickets    = "not_enough_tickets"
	ReasonNoCompatibleTickets = "no_compatible_tickets"
	ReasonTicketExpired       = "ticket_expired"

	// lobby cancellation reason constants.
	CancelReasonProvisioningFailed  = "provisioning_failed"
	CancelReasonProvisioningTimeout = "provisioning_timeout"
	CancelReasonReadyCheckTimeout   = "ready_check_timeout"
	CancelReasonHostLeft            = "host_left"
	CancelReasonRequested           = "requested_by_caller"
	CancelReasonEmpty               = "all_members_left"
	CancelReasonSessionRejected     = "session_handoff_rejected"

	// session failure reason constants.
	FailReasonRuntimeLost = "runtime_lost"
)
