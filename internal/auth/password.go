package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params is the cost of an Argon2id hash. Stored hashes carry their
// own parameters so the cost can be raised without invalidating old hashes.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params follows the OWASP recommendation for Argon2id.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// Upper bounds accepted when decoding a stored hash.
const (
	maxArgonMemory = 1024 * 1024 // 1 GiB
	maxArgonTime   = 16
)

var errMalformedHash = errors.New("malformed password hash")

// HashPassword hashes a plaintext password with DefaultArgon2Params and
// returns it in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	return HashPasswordWithParams(password, DefaultArgon2Params)
}

// HashPasswordWithParams hashes a plaintext password with explicit cost parameters.
func HashPasswordWithParams(password string, p Argon2Params) (string, error) {
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 || p.KeyLen == 0 || p.SaltLen == 0 {
		return "", fmt.Errorf("invalid argon2 parameters: %+v", p)
	}

	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against an Argon2id PHC hash.
// A malformed or non-argon2id hash never matches.
func VerifyPassword(password, encodedHash string) bool {
	salt, hash, p, err := decodePHC(encodedHash)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1
}

// decodePHC parses an Argon2id PHC string into salt, hash and parameters.
func decodePHC(encoded string) (salt, hash []byte, p Argon2Params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, p, errMalformedHash
	}

	if parts[1] != "argon2id" {
		return nil, nil, p, fmt.Errorf("%w: unsupported algorithm %q", errMalformedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, p, fmt.Errorf("%w: parsing version: %w", errMalformedHash, err)
	}
	if version != argon2.Version {
		return nil, nil, p, fmt.Errorf("%w: unsupported version %d", errMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, p, fmt.Errorf("%w: parsing parameters: %w", errMalformedHash, err)
	}
	if p.Time == 0 || p.Time > maxArgonTime || p.Memory == 0 || p.Memory > maxArgonMemory || p.Threads == 0 {
		return nil, nil, p, fmt.Errorf("%w: parameters out of range", errMalformedHash)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, nil, p, fmt.Errorf("%w: decoding salt", errMalformedHash)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, nil, p, fmt.Errorf("%w: decoding hash", errMalformedHash)
	}

	p.SaltLen = uint32(len(salt)) //nolint:gosec // G115: decoded length fits uint32
	p.KeyLen = uint32(len(hash))  //nolint:gosec // G115: decoded length fits uint32

	return salt, hash, p, nil
}
