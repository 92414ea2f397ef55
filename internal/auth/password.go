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

// Current hashing parameters. Stored hashes embed their own parameters, so
// these can be raised without invalidating existing credentials.
const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

var errMalformedHash = errors.New("auth: malformed password hash")

// HashPassword hashes a plaintext password with argon2id. The encoded form
// carries version, cost parameters, salt, and key.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword recomputes the hash with the parameters embedded in the
// stored value and compares in constant time.
func VerifyPassword(encoded, password string) error {
	memory, iterations, parallelism, salt, key, err := decodeHash(encoded)
	if err != nil {
		return err
	}
	candidate := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(key)))
	if subtle.ConstantTimeCompare(candidate, key) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

func decodeHash(encoded string) (memory, iterations uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	var p uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &p); err != nil {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	if memory == 0 || iterations == 0 || p == 0 || p > 255 {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	parallelism = uint8(p)
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, errMalformedHash
	}
	return memory, iterations, parallelism, salt, key, nil
}
