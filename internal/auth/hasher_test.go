package auth

import (
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testArgon2Params = Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func hashers() map[string]PasswordHasher {
	return map[string]PasswordHasher{
		"bcrypt":   NewBcryptHasher(bcrypt.MinCost),
		"argon2id": NewArgon2idHasher(testArgon2Params),
	}
}

func TestHasherRoundTrip(t *testing.T) {
	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			hash, err := h.Hash("correct horse")
			require.NoError(t, err)
			assert.NotEqual(t, "correct horse", hash)

			assert.True(t, h.Verify(hash, "correct horse"))
			assert.False(t, h.Verify(hash, "wrong horse"))
			assert.False(t, h.Verify(hash, ""))
		})
	}
}

func TestHasherIsSalted(t *testing.T) {
	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			first, err := h.Hash("same password")
			require.NoError(t, err)
			second, err := h.Hash("same password")
			require.NoError(t, err)
			assert.NotEqual(t, first, second)
		})
	}
}

func TestHasherRejectsBadPlaintext(t *testing.T) {
	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			_, err := h.Hash("")
			assert.ErrorIs(t, err, ErrEmptyPassword)

			_, err = h.Hash("bad\xffutf8")
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestHasherMalformedHashIsMismatch(t *testing.T) {
	for name, h := range hashers() {
		t.Run(name, func(t *testing.T) {
			for _, hash := range []string{"", "plain", "$argon2id$v=19$m=0,t=1,p=1$AAAA$AAAA", "$2a$04$short"} {
				assert.False(t, h.Verify(hash, "anything"), "hash %q", hash)
			}
		})
	}
}

func TestArgon2idEncoding(t *testing.T) {
	h := NewArgon2idHasher(testArgon2Params)
	hash, err := h.Hash("pw")
	require.NoError(t, err)

	parts := strings.Split(hash, "$")
	require.Len(t, parts, 6)
	assert.Equal(t, "argon2id", parts[1])
	assert.Equal(t, "v=19", parts[2])
	assert.Equal(t, "m=1024,t=1,p=1", parts[3])

	// Parameters come from the hash, not the verifier.
	assert.True(t, NewArgon2idHasher(Argon2Params{}).Verify(hash, "pw"))

	oversized := "$argon2id$v=19$m=99999999,t=1,p=1$" + parts[4] + "$" + parts[5]
	assert.False(t, h.Verify(oversized, "pw"))
}

func TestBcryptCostFallback(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).cost)
	assert.Equal(t, bcrypt.MinCost, NewBcryptHasher(bcrypt.MinCost).cost)
}

func TestBcryptHashTooLong(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Hash(strings.Repeat("x", 100))
	require.Error(t, err)
	assertErrorCode(t, err, "AUTH_HASH_FAILED")
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	assert.Equal(t, code, oopsErr.Code())
}
