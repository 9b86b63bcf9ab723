package gatekeeper

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Variant = "argon2id"
	argon2Version = "v=19"
)

// Argon2Hasher hashes passwords with Argon2id. The encoded form embeds the
// parameters, salt, and digest:
//
//	argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<hash>
//
// so hashes written with older parameters keep verifying after a retune.
type Argon2Hasher struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var _ PasswordHasher = Argon2Hasher{}

// DefaultArgon2Hasher returns a hasher with the stock parameters.
func DefaultArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hash generates an encoded Argon2id hash for the password.
func (h Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	cfg := h.withDefaults()
	salt := make([]byte, cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(password), salt, cfg.Iterations, cfg.Memory, cfg.Parallelism, cfg.KeyLength)

	encoded := strings.Join([]string{
		argon2Variant,
		argon2Version,
		fmt.Sprintf("m=%d,t=%d,p=%d", cfg.Memory, cfg.Iterations, cfg.Parallelism),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	}, "$")

	return encoded, nil
}

// Matches validates the given cleartext password against the stored hash.
// Malformed hashes never match.
func (h Argon2Hasher) Matches(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}

	params, salt, expected, err := decodeArgon2Hash(hash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func (h Argon2Hasher) withDefaults() Argon2Hasher {
	def := DefaultArgon2Hasher()
	if h.Memory == 0 {
		h.Memory = def.Memory
	}
	if h.Iterations == 0 {
		h.Iterations = def.Iterations
	}
	if h.Parallelism == 0 {
		h.Parallelism = def.Parallelism
	}
	if h.SaltLength == 0 {
		h.SaltLength = def.SaltLength
	}
	if h.KeyLength == 0 {
		h.KeyLength = def.KeyLength
	}
	return h
}

func decodeArgon2Hash(encoded string) (Argon2Hasher, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		return Argon2Hasher{}, nil, nil, fmt.Errorf("argon2: invalid encoded hash format")
	}

	if parts[0] != argon2Variant {
		return Argon2Hasher{}, nil, nil, fmt.Errorf("argon2: unexpected variant %q", parts[0])
	}
	if parts[1] != argon2Version {
		return Argon2Hasher{}, nil, nil, fmt.Errorf("argon2: unsupported version %q", parts[1])
	}

	memory, iterations, parallelism, err := parseArgon2Params(parts[2])
	if err != nil {
		return Argon2Hasher{}, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return Argon2Hasher{}, nil, nil, fmt.Errorf("argon2: decode salt: %w", err)
	}

	sum, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Hasher{}, nil, nil, fmt.Errorf("argon2: decode hash: %w", err)
	}

	cfg := Argon2Hasher{
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: parallelism,
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(sum)),
	}

	return cfg, salt, sum, nil
}

func parseArgon2Params(segment string) (uint32, uint32, uint8, error) {
	entries := strings.Split(segment, ",")
	if len(entries) != 3 {
		return 0, 0, 0, fmt.Errorf("argon2: invalid parameter segment %q", segment)
	}

	var (
		memory      uint32
		iterations  uint32
		parallelism uint8
	)

	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			return 0, 0, 0, fmt.Errorf("argon2: invalid parameter %q", entry)
		}

		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("argon2: parse m: %w", err)
			}
			memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("argon2: parse t: %w", err)
			}
			iterations = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("argon2: parse p: %w", err)
			}
			parallelism = uint8(v)
		default:
			return 0, 0, 0, fmt.Errorf("argon2: unknown parameter %q", key)
		}
	}

	return memory, iterations, parallelism, nil
}
