package core

// AuthMethod records how a caller's identity was established.
type AuthMethod string

const (
	// AuthBackendKey means the caller presented the trusted shared secret
	// and asserted a user id directly (server-to-server).
	AuthBackendKey AuthMethod = "backend-key"

	// AuthBearer means the user id is the verified subject claim of an
	// OAuth bearer token.
	AuthBearer AuthMethod = "bearer"
)

// Identity is the resolved caller identity for a single request.
// Every data operation requires one; there is no ambient "current user".
type Identity struct {
	// UserID is the owner partition for all memory operations.
	UserID string

	// Method records which gate branch produced the identity.
	Method AuthMethod
}

// Valid reports whether the identity carries a usable user id.
func (id Identity) Valid() bool {
	return id.UserID != ""
}
