package auth

// Claims is the verified identity of the caller. PrincipalID is trusted as-is
// by the engine.
type Claims struct {
	PrincipalID string
	Email       string
	TenantID    string
}
