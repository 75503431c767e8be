package sessionauth

import (
	"fmt"
	"strings"
)

// Role is the access-level classification of an authenticated user.
//
// The set is closed. Every access rule switches over it exhaustively, so a
// new role forces a review of [Decide] and [LandingPath].
type Role uint8

const (
	// RoleViewer can read a single tenant's dashboards.
	RoleViewer Role = iota + 1
	// RoleAdmin manages a single tenant.
	RoleAdmin
	// RoleSuperadmin operates the cross-tenant console and has no tenant view.
	RoleSuperadmin
)

// String returns the wire form of r.
func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleAdmin:
		return "admin"
	case RoleSuperadmin:
		return "superadmin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps a provider attribute onto a Role. An empty attribute means
// viewer; any other unknown value is rejected.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "viewer":
		return RoleViewer, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin":
		return RoleSuperadmin, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidAttributes, s)
	}
}

// DeliveryMedium is the channel a one-time code was sent through.
type DeliveryMedium uint8

const (
	// MediumEmail delivers the code by email.
	MediumEmail DeliveryMedium = iota + 1
	// MediumSMS delivers the code by text message.
	MediumSMS
)

func (m DeliveryMedium) String() string {
	switch m {
	case MediumEmail:
		return "EMAIL"
	case MediumSMS:
		return "SMS"
	default:
		return "UNKNOWN"
	}
}

// ParseDeliveryMedium accepts "EMAIL" or "SMS" in any case. Anything else
// falls back to email, which is where the product sends codes by default.
func ParseDeliveryMedium(s string) DeliveryMedium {
	if strings.EqualFold(strings.TrimSpace(s), "sms") {
		return MediumSMS
	}
	return MediumEmail
}

// Attributes are the raw profile attributes an identity provider reports for
// the signed-in user.
type Attributes struct {
	Email    string
	Role     string
	TenantID string
}

// Identity is the authenticated user as seen by the rest of the application.
//
// Identity is an immutable value. It can only be built through [NewIdentity]
// or [IdentityFrom] and is replaced wholesale on re-authentication.
type Identity struct {
	email    string
	role     Role
	tenantID string
}

// NewIdentity validates and builds an Identity. Email is trimmed and
// lower-cased. Viewers and admins must carry a tenant; superadmins may not
// have one.
func NewIdentity(email string, role Role, tenantID string) (Identity, error) {
	email = normalizeEmail(email)
	tenantID = strings.TrimSpace(tenantID)

	if email == "" {
		return Identity{}, fmt.Errorf("%w: email is empty", ErrInvalidAttributes)
	}
	switch role {
	case RoleViewer, RoleAdmin:
		if tenantID == "" {
			return Identity{}, fmt.Errorf("%w: %s requires a tenant", ErrInvalidAttributes, role)
		}
	case RoleSuperadmin:
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %d", ErrInvalidAttributes, uint8(role))
	}

	return Identity{
		email:    email,
		role:     role,
		tenantID: tenantID,
	}, nil
}

// IdentityFrom builds an Identity from provider attributes.
func IdentityFrom(attrs Attributes) (Identity, error) {
	role, err := ParseRole(attrs.Role)
	if err != nil {
		return Identity{}, err
	}
	return NewIdentity(attrs.Email, role, attrs.TenantID)
}

func (i Identity) Email() string    { return i.email }
func (i Identity) Role() Role       { return i.role }
func (i Identity) TenantID() string { return i.tenantID }

// IsZero reports whether i was never constructed.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

func (i Identity) String() string {
	if i.IsZero() {
		return "anonymous"
	}
	if i.tenantID == "" {
		return fmt.Sprintf("%s (%s)", i.email, i.role)
	}
	return fmt.Sprintf("%s (%s, tenant %s)", i.email, i.role, i.tenantID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
