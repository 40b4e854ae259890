package pdfsecure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	plaintext := []byte("three pages of quarterly numbers")

	for _, d := range []Domain{DomainLedger, DomainPage} {
		t.Run(d.String(), func(t *testing.T) {
			ct, err := codec.Seal(d, plaintext, []byte("aad"))
			require.NoError(t, err)
			assert.Len(t, ct, 24+len(plaintext)+16)

			pt, err := codec.Open(d, ct, []byte("aad"))
			require.NoError(t, err)
			assert.Equal(t, plaintext, pt)
		})
	}
}

func TestCodecFreshNonce(t *testing.T) {
	codec := newTestCodec(t)
	a, err := codec.Seal(DomainPage, []byte("same"), nil)
	require.NoError(t, err)
	b, err := codec.Seal(DomainPage, []byte("same"), nil)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b), "two seals of one plaintext must differ")
}

func TestCodecAuthenticationFailures(t *testing.T) {
	codec := newTestCodec(t)
	ct, err := codec.Seal(DomainPage, []byte("page bytes"), []byte("page:a.pdf_0.enc"))
	require.NoError(t, err)

	t.Run("FlippedBit", func(t *testing.T) {
		for _, pos := range []int{0, 24, len(ct) - 1} {
			tampered := bytes.Clone(ct)
			tampered[pos] ^= 0x01
			_, err := codec.Open(DomainPage, tampered, []byte("page:a.pdf_0.enc"))
			assert.ErrorIs(t, err, ErrAuthentication, "byte %d", pos)
		}
	})

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := codec.Open(DomainPage, ct, []byte("page:a.pdf_1.enc"))
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("WrongDomain", func(t *testing.T) {
		_, err := codec.Open(DomainLedger, ct, []byte("page:a.pdf_0.enc"))
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("WrongKey", func(t *testing.T) {
		_, err := newTestCodec(t).Open(DomainPage, ct, []byte("page:a.pdf_0.enc"))
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := codec.Open(DomainPage, ct[:20], nil)
		assert.ErrorIs(t, err, ErrAuthentication)
	})
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	_, err := NewCodec(make([]byte, 16))
	assert.Error(t, err)

	_, err = NewCodec(make([]byte, 32))
	assert.Error(t, err, "all-zero key is weak")
}

func TestNewCodecWipesMasterKey(t *testing.T) {
	key := randomKey(t)
	_, err := NewCodec(key)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), key)
}

func TestCodecDestroy(t *testing.T) {
	codec := newTestCodec(t)
	codec.Destroy()
	_, err := codec.Seal(DomainLedger, []byte("x"), nil)
	assert.Error(t, err)
}
