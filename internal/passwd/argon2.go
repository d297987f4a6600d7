// Package passwd provides slow password hashing (argon2id, PHC string
// encoding) and the password acceptance policy.
package passwd

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// MaxPasswordBytes bounds hashing and policy-check cost. Longer candidates
// are truncated before any processing.
const MaxPasswordBytes = 1024

// Hasher is the interface the auth and account services depend on. The
// production implementation is Argon2; tests substitute counting spies to
// assert the fixed-cost invariant.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Argon2Params tune the argon2id KDF.
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are safe interactive-login parameters: 64 MiB memory,
// one pass, four lanes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies passwords in the PHC string format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt-b64>$<hash-b64>
type Argon2 struct {
	params Argon2Params
}

// NewArgon2 builds a hasher. Zero-valued fields fall back to defaults.
func NewArgon2(p Argon2Params) *Argon2 {
	d := DefaultArgon2Params()
	if p.Memory == 0 {
		p.Memory = d.Memory
	}
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.Parallelism == 0 {
		p.Parallelism = d.Parallelism
	}
	if p.SaltLength == 0 {
		p.SaltLength = d.SaltLength
	}
	if p.KeyLength == 0 {
		p.KeyLength = d.KeyLength
	}
	return &Argon2{params: p}
}

// Hash derives an argon2id hash of password under a fresh random salt and
// returns the PHC-encoded string.
func (a *Argon2) Hash(password string) (string, error) {
	password = Truncate(password)

	salt := make([]byte, a.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password), salt,
		a.params.Time, a.params.Memory, a.params.Parallelism, a.params.KeyLength,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, a.params.Memory, a.params.Time, a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash and
// compares in constant time.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	password = Truncate(password)

	salt, key, memory, time, parallelism, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password), salt,
		time, memory, parallelism, uint32(len(key)),
	)

	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// Truncate bounds a candidate password to MaxPasswordBytes.
func Truncate(password string) string {
	if len(password) > MaxPasswordBytes {
		return password[:MaxPasswordBytes]
	}
	return password
}

func parsePHC(encoded string) (salt, key []byte, memory, time uint32, parallelism uint8, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, errors.New("invalid argon2id hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, errors.New("unsupported argon2 version")
	}

	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, nil, 0, 0, 0, errors.New("invalid argon2 parameters")
		}
		n, perr := strconv.ParseUint(value, 10, 32)
		if perr != nil {
			return nil, nil, 0, 0, 0, errors.New("invalid argon2 parameters")
		}
		switch name {
		case "m":
			memory = uint32(n)
		case "t":
			time = uint32(n)
		case "p":
			parallelism = uint8(n)
		default:
			return nil, nil, 0, 0, 0, errors.New("invalid argon2 parameters")
		}
	}
	if memory == 0 || time == 0 || parallelism == 0 {
		return nil, nil, 0, 0, 0, errors.New("invalid argon2 parameters")
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, errors.New("invalid salt encoding")
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, nil, 0, 0, 0, errors.New("invalid hash encoding")
	}

	return salt, key, memory, time, parallelism, nil
}
