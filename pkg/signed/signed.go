// Package signed provides the timestamped, signed value wrapper used for
// every mutation in the tree, and the canonical byte encoding that
// signatures are computed over.
//
// The canonical encoding is a stable-field-order, length-prefixed scheme:
// variable-length fields carry a uint32 big-endian length prefix, fixed
// integers are big-endian, and fields always appear in the same order.
// There is no wire-compatibility constraint with an RPC peer, only with
// our own signatures, so no alignment padding is added.
package signed

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/lberrors"
)

// Value[T] pairs a timestamp with the value it was signed at.
type Value[T any] struct {
	TimestampMs int64
	Value       T
}

// Signed[T] is a Value plus the ECDSA signature over its canonical encoding
// and the public key that produced it, inlined so a verifier never needs to
// look the signer up elsewhere.
type Signed[T any] struct {
	Timestamped Value[T]
	Signature   crypto.Signature
	PublicKey   crypto.PublicKey
}

// Encoder writes the canonical, stable-field-order, length-prefixed
// encoding that a signature is computed over. Callers append fields in a
// fixed order; see each Encode* method for its wire shape.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated canonical encoding.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Opaque appends a length-prefixed variable-length field: [uint32 len][bytes].
func (e *Encoder) Opaque(b []byte) *Encoder {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	e.buf.Write(lenBuf[:])
	e.buf.Write(b)
	return e
}

// String appends a length-prefixed UTF-8 string field.
func (e *Encoder) String(s string) *Encoder {
	return e.Opaque([]byte(s))
}

// Uint64 appends a fixed-width 8-byte big-endian integer field.
func (e *Encoder) Uint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

// Bool appends a single-byte boolean field.
func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
	return e
}

// Canonicalizer is implemented by every value that can be signed: it writes
// its fields, in a stable order, into the encoder.
type Canonicalizer interface {
	Canonicalize(e *Encoder)
}

// Sign produces a Signed[T] by canonicalizing value, prefixing it with the
// timestamp, and signing the result with priv.
func Sign[T Canonicalizer](priv crypto.PrivateKey, value T, now time.Time) (Signed[T], error) {
	ts := now.UnixMilli()
	enc := NewEncoder()
	enc.Uint64(uint64(ts))
	value.Canonicalize(enc)

	sig, err := crypto.Sign(priv, enc.Bytes(), now)
	if err != nil {
		return Signed[T]{}, err
	}
	return Signed[T]{
		Timestamped: Value[T]{TimestampMs: ts, Value: value},
		Signature:   sig,
		PublicKey:   priv.Public(),
	}, nil
}

// Verify checks that s.Signature verifies under s.PublicKey over the
// canonical encoding of s.Timestamped, within window of now.
func Verify[T Canonicalizer](s Signed[T], now time.Time, window crypto.SkewWindow) error {
	if s.Signature.TimestampMs != s.Timestamped.TimestampMs {
		return lberrors.New(lberrors.ErrSignatureInvalid, "timestamp mismatch between envelope and signature")
	}
	enc := NewEncoder()
	enc.Uint64(uint64(s.Timestamped.TimestampMs))
	s.Timestamped.Value.Canonicalize(enc)
	return crypto.Verify(s.PublicKey, s.Signature, enc.Bytes(), now, window)
}

// Resign re-signs the current value with a fresh timestamp, e.g. after a
// mutation. The FileMeta/value equality used elsewhere ignores signatures,
// so re-signing an unchanged value is idempotent for comparison purposes.
func Resign[T Canonicalizer](priv crypto.PrivateKey, s Signed[T], now time.Time) (Signed[T], error) {
	return Sign(priv, s.Timestamped.Value, now)
}
