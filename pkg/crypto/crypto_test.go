package crypto

import (
	"testing"
	"time"

	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	priv, err := GenerateIdentity()
	require.NoError(t, err)

	data := []byte("hello lockbook")
	now := time.Now()

	sig, err := Sign(priv, data, now)
	require.NoError(t, err)

	err = Verify(priv.Public(), sig, data, now, DefaultSkewWindow)
	assert.NoError(t, err)
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	t.Parallel()

	priv, err := GenerateIdentity()
	require.NoError(t, err)

	now := time.Now()
	sig, err := Sign(priv, []byte("original"), now)
	require.NoError(t, err)

	err = Verify(priv.Public(), sig, []byte("tampered"), now, DefaultSkewWindow)
	require.Error(t, err)
	assert.True(t, lberrors.Is(err, lberrors.ErrSignatureInvalid))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	t.Parallel()

	priv, err := GenerateIdentity()
	require.NoError(t, err)
	other, err := GenerateIdentity()
	require.NoError(t, err)

	now := time.Now()
	data := []byte("hello")
	sig, err := Sign(priv, data, now)
	require.NoError(t, err)

	err = Verify(other.Public(), sig, data, now, DefaultSkewWindow)
	require.Error(t, err)
	assert.True(t, lberrors.Is(err, lberrors.ErrSignatureInvalid))
}

func TestVerifySkewWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		signed  time.Duration // offset of the signing time from "now"
		wantErr bool
	}{
		{"within future skew", 4 * time.Minute, false},
		{"beyond future skew", 6 * time.Minute, true},
		{"within past skew", -59 * time.Minute, false},
		{"beyond past skew", -61 * time.Minute, true},
	}

	priv, err := GenerateIdentity()
	require.NoError(t, err)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := time.Now()
			signedAt := now.Add(tt.signed)
			sig, err := Sign(priv, []byte("x"), signedAt)
			require.NoError(t, err)

			err = Verify(priv.Public(), sig, []byte("x"), now, DefaultSkewWindow)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, lberrors.Is(err, lberrors.ErrSignatureExpired))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEcdhSharedIsSymmetric(t *testing.T) {
	t.Parallel()

	alice, err := GenerateIdentity()
	require.NoError(t, err)
	bob, err := GenerateIdentity()
	require.NoError(t, err)

	s1, err := ECDHShared(alice, bob.Public())
	require.NoError(t, err)
	s2, err := ECDHShared(bob, alice.Public())
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}

func TestAesGcmRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := GenerateAesKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ev, err := AesGcmEncrypt(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ev.Value)

	decrypted, err := AesGcmDecrypt(key, ev)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAesGcmFreshNoncePerCall(t *testing.T) {
	t.Parallel()

	key, err := GenerateAesKey()
	require.NoError(t, err)

	ev1, err := AesGcmEncrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	ev2, err := AesGcmEncrypt(key, []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, ev1.Nonce, ev2.Nonce)
	assert.NotEqual(t, ev1.Value, ev2.Value)
}

func TestAesGcmDecryptWrongKeyFails(t *testing.T) {
	t.Parallel()

	key, err := GenerateAesKey()
	require.NoError(t, err)
	other, err := GenerateAesKey()
	require.NoError(t, err)

	ev, err := AesGcmEncrypt(key, []byte("secret"))
	require.NoError(t, err)

	_, err = AesGcmDecrypt(other, ev)
	require.Error(t, err)
	assert.True(t, lberrors.Is(err, lberrors.ErrDecryption))
}

func TestHmacDeterministic(t *testing.T) {
	t.Parallel()

	key, err := GenerateAesKey()
	require.NoError(t, err)

	h1 := HmacSha256(key, []byte("filename.txt"))
	h2 := HmacSha256(key, []byte("filename.txt"))
	h3 := HmacSha256(key, []byte("FILENAME.txt"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestZlibRoundTrip(t *testing.T) {
	t.Parallel()

	plaintext := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	compressed, err := ZlibCompress(plaintext)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(plaintext))

	decompressed, err := ZlibDecompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decompressed)
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	t.Parallel()

	priv, err := GenerateIdentity()
	require.NoError(t, err)

	b := priv.Public().Bytes()
	pub2, err := PublicKeyFromBytes(b)
	require.NoError(t, err)

	assert.True(t, priv.Public().Equal(pub2))
}

func TestPublicKeyLessIsTotalOrder(t *testing.T) {
	t.Parallel()

	a, err := GenerateIdentity()
	require.NoError(t, err)
	b, err := GenerateIdentity()
	require.NoError(t, err)

	if a.Public().Less(b.Public()) {
		assert.False(t, b.Public().Less(a.Public()))
	} else {
		assert.True(t, b.Public().Less(a.Public()) || a.Public().Equal(b.Public()))
	}
}
