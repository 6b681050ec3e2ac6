package auth

// Reason explains an authorization decision.
type Reason string

const (
	ReasonNotAuthenticated Reason = "not_authenticated"
	ReasonSuperuser        Reason = "superuser"
	ReasonMissingResource  Reason = "missing_resource_declaration"
	ReasonMalformedPayload Reason = "malformed_payload"
	ReasonGranted          Reason = "granted"
	ReasonNotGranted       Reason = "not_granted"
	ReasonNoObjectRule     Reason = "no_object_rule"
)

// Identity is the authenticated caller's account state as known to the store
// at request time. Flags are never read from the token.
type Identity struct {
	UserID      string
	IsActive    bool
	IsSuperuser bool
}

// IdentityOf projects the account flags the decision needs.
func IdentityOf(u User) Identity {
	return Identity{UserID: u.ID, IsActive: u.IsActive, IsSuperuser: u.IsSuperuser}
}

// Request is one authorization question. Payload and Identity are nil when the
// caller is not authenticated.
type Request struct {
	Payload  *Payload
	Identity *Identity
	Resource Resource
	Method   string
}

// Decision is the outcome of Authorize. Required is the permission name that
// was checked, empty when the decision was made before the lookup.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Required string
}

func allow(reason Reason, required string) Decision {
	return Decision{Allowed: true, Reason: reason, Required: required}
}

func deny(reason Reason, required string) Decision {
	return Decision{Reason: reason, Required: required}
}

// Err reports a denial as one of the package sentinel errors, or nil when the
// request was allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonNotAuthenticated:
		return ErrNotAuthenticated
	case ReasonMissingResource:
		return ErrMissingResourceDeclaration
	case ReasonMalformedPayload:
		return ErrMalformedPayload
	default:
		return ErrPermissionDenied
	}
}

// Authorize decides a request-level check. It performs no I/O and never fails;
// every abnormal input becomes a denial.
func Authorize(req Request) Decision {
	if req.Payload == nil || req.Identity == nil || req.Identity.UserID == "" {
		return deny(ReasonNotAuthenticated, "")
	}
	if req.Identity.IsActive && req.Identity.IsSuperuser {
		return allow(ReasonSuperuser, "")
	}
	if !req.Resource.Declared() {
		return deny(ReasonMissingResource, "")
	}
	if !req.Payload.HasPermissions {
		return deny(ReasonMalformedPayload, "")
	}
	required := req.Resource.Permission(req.Method)
	if req.Payload.Grants(required) {
		return allow(ReasonGranted, required)
	}
	return deny(ReasonNotGranted, required)
}

// AuthorizeObject decides an object-level check. No object rules exist, so
// every object check is denied regardless of the caller.
func AuthorizeObject(Request, any) Decision {
	return deny(ReasonNoObjectRule, "")
}
