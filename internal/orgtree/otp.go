package orgtree

import (
	"github.com/pquerna/otp/totp"

	"github.com/rat-data/ratd-core/internal/domain"
)

// VerifyOTP validates a client-supplied TOTP code against the user's
// stored secret, satisfying internal/node.OrgUserLookup. A user with no
// configured secret never validates.
func (s *PostgresStore) VerifyOTP(user domain.User, code string) bool {
	if user.OTPSecret == "" {
		return false
	}
	return totp.Validate(code, user.OTPSecret)
}
