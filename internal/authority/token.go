package authority

import (
	"fmt"
	"strings"

	"github.com/vaultline/treasury-backend/pkg/config"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/security"
)

// Verifier checks presented authority tokens against the configured one.
// Comparison runs in constant time so length differences never
// short-circuit the check.
type Verifier struct {
	token string
	id    string
}

// NewVerifier builds a Verifier from config.
func NewVerifier(cfg config.AuthorityConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("authority token required")
	}
	return &Verifier{
		token: cfg.Token,
		id:    cfg.ID,
	}, nil
}

// ID is the principal name audit events use for the authority.
func (v *Verifier) ID() string {
	return v.id
}

// TokensMatch reports whether the presented token is the configured one.
func (v *Verifier) TokensMatch(presented string) bool {
	if presented == "" {
		return false
	}
	return security.TokensMatch(presented, v.token)
}

// RequireAuthority returns a typed error unless the presented token matches.
func (v *Verifier) RequireAuthority(presented string) error {
	if !v.TokensMatch(presented) {
		return pkgerrors.New(pkgerrors.CodeAuthorityRequired, "authority token required")
	}
	return nil
}
