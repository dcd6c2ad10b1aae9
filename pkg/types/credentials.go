package types

// CredentialStore persists the session token between runs. Token returns
// ErrNoToken when nothing is stored.
type CredentialStore interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
}
