package sessionauth

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventMFARequired        = "mfa_required"
	auditEventMFASuccess         = "mfa_success"
	auditEventMFAFailure         = "mfa_failure"
	auditEventChallengeResent    = "challenge_resent"
	auditEventChallengeAbandoned = "challenge_abandoned"
	auditEventHydrateLive        = "hydrate_live"
	auditEventHydrateNone        = "hydrate_none"
	auditEventCorruptState       = "corrupt_persisted_state"
	auditEventLogout             = "logout"
	auditEventSessionRevoked     = "session_revoked"
)

// AuditErrorCode is the stable error label recorded in audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrAccountUnconfirmed AuditErrorCode = "account_unconfirmed"
	auditErrInvalidCode        AuditErrorCode = "invalid_or_expired_code"
	auditErrInvalidAttributes  AuditErrorCode = "invalid_attributes"
	auditErrNoActiveSession    AuditErrorCode = "no_active_session"
	auditErrCorruptState       AuditErrorCode = "corrupt_persisted_state"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrAborted            AuditErrorCode = "aborted"
	auditErrNetwork            AuditErrorCode = "network_failure"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	id Identity,
	email string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventType: eventType,
		Email:     email,
		Success:   success,
		Metadata:  metadata,
	}
	if !id.IsZero() {
		event.Email = id.Email()
		event.TenantID = id.TenantID()
		event.Role = id.Role().String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMissingCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountUnconfirmed):
		return auditErrAccountUnconfirmed
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrInvalidAttributes):
		return auditErrInvalidAttributes
	case errors.Is(err, ErrNoActiveSession):
		return auditErrNoActiveSession
	case errors.Is(err, ErrCorruptPersistedState):
		return auditErrCorruptState
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrLoginAborted), errors.Is(err, ErrChallengeDiscarded):
		return auditErrAborted
	default:
		return auditErrNetwork
	}
}
