// Package auth hashes and verifies operator and nick-registration
// passwords, and authorizes OPER logins against the configured operator
// blocks. Hashing follows the teacher repo's "constant-time comparison of a
// KDF output" shape (database.User.CheckPassword in the pack), swapped from
// bcrypt to Argon2id per the server's explicit requirement.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/Pryancito/zeusircd2/xirc"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// HashPassword returns a PHC-like "$argon2id$v=..$m=..,t=..,p=..$salt$hash"
// encoded string suitable for storage in config or the persistence façade.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against an encoded hash produced by
// HashPassword, using a constant-time comparison of the derived keys.
func VerifyPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("unrecognized password hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version field: %w", err)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("invalid params field: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("invalid salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("invalid hash: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// OperatorRecord is the subset of config.Operator auth needs, kept separate
// so this package doesn't depend on config (avoids an import cycle: config
// is loaded before auth is wired).
type OperatorRecord struct {
	Name     string
	Password string // argon2-encoded
	Mask     string
}

// AuthenticateOperator verifies an OPER name+password and checks the
// connection's nick!user@host against the operator's configured source
// mask, per §4.F.
func AuthenticateOperator(operators []OperatorRecord, name, password, sourceNUH string) (*OperatorRecord, error) {
	for i := range operators {
		op := &operators[i]
		if op.Name != name {
			continue
		}
		ok, err := VerifyPassword(op.Password, password)
		if err != nil {
			return nil, fmt.Errorf("oper %q: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("password mismatch")
		}
		if op.Mask != "" && !xirc.MatchMask(strings.ToLower(op.Mask), strings.ToLower(sourceNUH)) {
			return nil, fmt.Errorf("source host does not match configured mask")
		}
		return op, nil
	}
	return nil, fmt.Errorf("no such operator %q", name)
}
