package auth

// Identity is the resolved caller of a request. Exactly one variant is
// produced per request: a session-derived JWTIdentity or a programmatic
// SecretIdentity. The interface is sealed so consumers must type-switch over
// the two variants rather than poke at optional fields.
type Identity interface {
	// Subject returns the owning account ID.
	Subject() string

	isIdentity()
}

// JWTIdentity is a caller authenticated through a bearer token issued by the
// identity provider.
type JWTIdentity struct {
	SubjectID string
	Email     string
}

// Subject returns the owning account ID.
func (i JWTIdentity) Subject() string { return i.SubjectID }

func (JWTIdentity) isIdentity() {}

// SecretIdentity is a caller authenticated through a pinning secret.
type SecretIdentity struct {
	SubjectID          string
	SecretID           string
	Scopes             []string
	RateLimitPerMinute int
}

// Subject returns the owning account ID.
func (i SecretIdentity) Subject() string { return i.SubjectID }

func (SecretIdentity) isIdentity() {}

// HasScope reports whether the secret identity carries the named scope.
func (i SecretIdentity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
