// Package crypto provides the primitives the rest of the core builds on:
// identity keypairs, timestamped signatures with a skew window, ECDH key
// agreement, AES-256-GCM, HMAC-SHA256, and zlib compression.
package crypto

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"math/big"
	"time"

	"github.com/lockbook/lockbook/pkg/lberrors"
)

// Curve is the elliptic curve used for identity keys and signing.
var Curve = elliptic.P256()

// PrivateKey is an account's identity private key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey is an account's identity public key.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// GenerateIdentity creates a fresh random identity keypair.
func GenerateIdentity() (PrivateKey, error) {
	key, err := ecdsa.GenerateKey(Curve, rand.Reader)
	if err != nil {
		return PrivateKey{}, lberrors.New(lberrors.ErrUnexpected, "generate identity: "+err.Error())
	}
	return PrivateKey{key: key}, nil
}

// Public returns the public key for priv.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey{key: &priv.key.PublicKey}
}

// Bytes serializes the private key's scalar as a fixed-size big-endian blob.
func (priv PrivateKey) Bytes() []byte {
	return priv.key.D.FillBytes(make([]byte, (Curve.Params().BitSize+7)/8))
}

// PrivateKeyFromBytes reconstructs a private key from its scalar bytes.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	key := new(ecdsa.PrivateKey)
	key.Curve = Curve
	key.D = new(big.Int).SetBytes(b)
	key.PublicKey.X, key.PublicKey.Y = Curve.ScalarBaseMult(b)
	return PrivateKey{key: key}, nil
}

// Bytes serializes the public key as an uncompressed SEC1 point.
func (pub PublicKey) Bytes() []byte {
	return elliptic.Marshal(Curve, pub.key.X, pub.key.Y)
}

// PublicKeyFromBytes reconstructs a public key from an uncompressed SEC1 point.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	x, y := elliptic.Unmarshal(Curve, b)
	if x == nil {
		return PublicKey{}, lberrors.New(lberrors.ErrInvalidArgument, "malformed public key")
	}
	return PublicKey{key: &ecdsa.PublicKey{Curve: Curve, X: x, Y: y}}, nil
}

// Equal reports whether two public keys are the same point.
func (pub PublicKey) Equal(other PublicKey) bool {
	if pub.key == nil || other.key == nil {
		return pub.key == other.key
	}
	return pub.key.Equal(other.key)
}

// Less provides a total order over public keys, used to break merge ties
// deterministically.
func (pub PublicKey) Less(other PublicKey) bool {
	return bytes.Compare(pub.Bytes(), other.Bytes()) < 0
}

// Signature is an ECDSA signature plus the millisecond timestamp it covers.
type Signature struct {
	TimestampMs int64
	R, S        []byte
}

// DefaultMaxFutureSkew and DefaultMaxPastSkew bound how stale or
// forward-dated a signature timestamp may be: five minutes into the
// future, one hour into the past.
const (
	DefaultMaxFutureSkew = 5 * time.Minute
	DefaultMaxPastSkew   = time.Hour
)

// Sign signs bytes with priv, stamping the signature with now.
func Sign(priv PrivateKey, data []byte, now time.Time) (Signature, error) {
	ts := now.UnixMilli()
	digest := digestFor(data, ts)
	r, s, err := ecdsa.Sign(rand.Reader, priv.key, digest)
	if err != nil {
		return Signature{}, lberrors.New(lberrors.ErrEncryption, "sign: "+err.Error())
	}
	return Signature{TimestampMs: ts, R: r.Bytes(), S: s.Bytes()}, nil
}

// SkewWindow bounds how far a signature's timestamp may diverge from the
// verifier's clock.
type SkewWindow struct {
	MaxFuture time.Duration
	MaxPast   time.Duration
}

// DefaultSkewWindow is the window used everywhere a caller doesn't supply
// its own.
var DefaultSkewWindow = SkewWindow{MaxFuture: DefaultMaxFutureSkew, MaxPast: DefaultMaxPastSkew}

// Verify checks sig over data under pub, relative to now and window.
func Verify(pub PublicKey, sig Signature, data []byte, now time.Time, window SkewWindow) error {
	ts := time.UnixMilli(sig.TimestampMs)
	if ts.After(now.Add(window.MaxFuture)) || now.After(ts.Add(window.MaxPast)) {
		return lberrors.New(lberrors.ErrSignatureExpired, "signature timestamp outside allowed skew window")
	}
	digest := digestFor(data, sig.TimestampMs)
	r := new(big.Int).SetBytes(sig.R)
	s := new(big.Int).SetBytes(sig.S)
	if !ecdsa.Verify(pub.key, digest, r, s) {
		return lberrors.New(lberrors.ErrSignatureInvalid, "signature does not verify")
	}
	return nil
}

func digestFor(data []byte, timestampMs int64) []byte {
	h := sha256.New()
	var tsBuf [8]byte
	putUint64(tsBuf[:], uint64(timestampMs))
	h.Write(tsBuf[:])
	h.Write(data)
	return h.Sum(nil)
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// ECDHShared derives a 32-byte shared secret between priv and pub.
func ECDHShared(priv PrivateKey, pub PublicKey) ([32]byte, error) {
	eciesPriv, err := priv.key.ECDH()
	if err != nil {
		return [32]byte{}, lberrors.New(lberrors.ErrEncryption, "ecdh: "+err.Error())
	}
	eciesPub, err := pub.key.ECDH()
	if err != nil {
		return [32]byte{}, lberrors.New(lberrors.ErrEncryption, "ecdh: "+err.Error())
	}
	shared, err := eciesPriv.ECDH(eciesPub)
	if err != nil {
		return [32]byte{}, lberrors.New(lberrors.ErrEncryption, "ecdh: "+err.Error())
	}
	return sha256.Sum256(shared), nil
}

// AesKey is a 256-bit symmetric key.
type AesKey [32]byte

// GenerateAesKey returns a fresh random 256-bit key, used for new folders
// and for the per-document content key.
func GenerateAesKey() (AesKey, error) {
	var k AesKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return AesKey{}, lberrors.New(lberrors.ErrUnexpected, "generate key: "+err.Error())
	}
	return k, nil
}

// EncryptedValue is ciphertext plus the nonce used to produce it.
type EncryptedValue struct {
	Value []byte
	Nonce []byte
}

// AesGcmEncrypt encrypts plaintext under key with a fresh random 96-bit nonce.
func AesGcmEncrypt(key AesKey, plaintext []byte) (EncryptedValue, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return EncryptedValue{}, lberrors.New(lberrors.ErrEncryption, err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedValue{}, lberrors.New(lberrors.ErrEncryption, err.Error())
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedValue{}, lberrors.New(lberrors.ErrEncryption, err.Error())
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return EncryptedValue{Value: ct, Nonce: nonce}, nil
}

// AesGcmDecrypt decrypts an EncryptedValue under key.
func AesGcmDecrypt(key AesKey, ev EncryptedValue) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, lberrors.New(lberrors.ErrDecryption, err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, lberrors.New(lberrors.ErrDecryption, err.Error())
	}
	pt, err := gcm.Open(nil, ev.Nonce, ev.Value, nil)
	if err != nil {
		return nil, lberrors.New(lberrors.ErrDecryption, "authentication failed")
	}
	return pt, nil
}

// HmacSha256 computes HMAC-SHA256(key, data).
func HmacSha256(key AesKey, data []byte) [32]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ZlibCompress compresses plaintext.
func ZlibCompress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(plaintext); err != nil {
		return nil, lberrors.New(lberrors.ErrUnexpected, "zlib compress: "+err.Error())
	}
	if err := w.Close(); err != nil {
		return nil, lberrors.New(lberrors.ErrUnexpected, "zlib compress: "+err.Error())
	}
	return buf.Bytes(), nil
}

// ZlibDecompress decompresses ciphertext produced by ZlibCompress.
func ZlibDecompress(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, lberrors.New(lberrors.ErrUnexpected, "zlib decompress: "+err.Error())
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, lberrors.New(lberrors.ErrUnexpected, "zlib decompress: "+err.Error())
	}
	return out, nil
}
