// Package crypto implements the key derivation, secret encryption, and
// token generation primitives shared by the data and auth layers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NonceSize is the AES-GCM standard nonce length prepended to every
// ciphertext.
const NonceSize = 12

var (
	ErrDecrypt           = errors.New("decryption failed")
	ErrInvalidTimeFormat = errors.New("invalid time format")
)

// deriveKey builds the AES-256 key from the canonical string forms of salt
// and pepper.
func deriveKey(salt, pepper uuid.UUID) []byte {
	sum := sha256.Sum256([]byte(salt.String() + pepper.String()))
	return sum[:]
}

// Encrypt seals plaintext with AES-256-GCM under a key derived from salt
// and pepper and returns hex(nonce || ciphertext).
func Encrypt(plaintext string, salt, pepper uuid.UUID) (string, error) {
	block, err := aes.NewCipher(deriveKey(salt, pepper))
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure, including tampered or truncated
// input, reports ErrDecrypt.
func Decrypt(encoded string, salt, pepper uuid.UUID) (string, error) {
	data, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(data) < NonceSize {
		return "", fmt.Errorf("%w: input shorter than nonce", ErrDecrypt)
	}
	block, err := aes.NewCipher(deriveKey(salt, pepper))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// DeriveID maps a string to a stable UUIDv5 under the DNS namespace. Virtual
// key ids and session token ids are derived this way so lookups never need
// the plaintext secret stored anywhere.
func DeriveID(s string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(s))
}

// HashContent returns hex(SHA-256(salt || content || pepper)) using the
// canonical string forms of both UUIDs.
func HashContent(content string, salt, pepper uuid.UUID) string {
	sum := sha256.Sum256([]byte(salt.String() + content + pepper.String()))
	return hex.EncodeToString(sum[:])
}

// ParseExpiry interprets a compact validity such as "30d" or "12h" relative
// to now. Units: s, m, h, d, w, M (30 days), y (365 days).
func ParseExpiry(now time.Time, input string) (time.Time, error) {
	if len(input) < 2 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, input)
	}
	valueStr, unit := input[:len(input)-1], input[len(input)-1]
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a number", ErrInvalidTimeFormat, valueStr)
	}
	var d time.Duration
	switch unit {
	case 's':
		d = time.Duration(value) * time.Second
	case 'm':
		d = time.Duration(value) * time.Minute
	case 'h':
		d = time.Duration(value) * time.Hour
	case 'd':
		d = time.Duration(value) * 24 * time.Hour
	case 'w':
		d = time.Duration(value) * 7 * 24 * time.Hour
	case 'M':
		d = time.Duration(value) * 30 * 24 * time.Hour
	case 'y':
		d = time.Duration(value) * 365 * 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidTimeFormat, string(unit))
	}
	return now.Add(d).Truncate(time.Second), nil
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomAlphanumeric returns n random characters from [A-Za-z0-9] using
// crypto/rand.
func RandomAlphanumeric(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 248 = 4*62; values above it would bias the low letters.
			if int(b) < 248 {
				out = append(out, alphanumeric[int(b)%62])
				if len(out) == n {
					break
				}
			}
		}
	}
	return string(out), nil
}

// NewAPIKey returns "sk-" followed by length random alphanumeric
// characters.
func NewAPIKey(length int) (string, error) {
	suffix, err := RandomAlphanumeric(length)
	if err != nil {
		return "", err
	}
	return "sk-" + suffix, nil
}

// Password encodings are "#<scheme>#<hash>". Scheme 01 is
// HashContent(password, salt, secret).
const passwordScheme = "01"

// HashPassword encodes password under the current scheme.
func HashPassword(password string, salt, secret uuid.UUID) string {
	return "#" + passwordScheme + "#" + HashContent(password, salt, secret)
}

// VerifyPassword reports whether password matches the stored encoding.
// Unknown schemes never match.
func VerifyPassword(encoded, password string, salt, secret uuid.UUID) bool {
	scheme, hash, ok := splitPassword(encoded)
	if !ok {
		return false
	}
	switch scheme {
	case passwordScheme:
		want := HashContent(password, salt, secret)
		return subtle.ConstantTimeCompare([]byte(hash), []byte(want)) == 1
	default:
		return false
	}
}

func splitPassword(encoded string) (scheme, hash string, ok bool) {
	if !strings.HasPrefix(encoded, "#") {
		return "", "", false
	}
	rest := encoded[1:]
	i := strings.IndexByte(rest, '#')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
