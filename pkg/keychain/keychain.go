// Package keychain implements account creation and identity import/export:
// generating an ECDSA identity, constructing the self-owned root folder a
// fresh account needs, and round-tripping an identity through a
// base58-encoded account string.
package keychain

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
)

// MinUsernameLength and MaxUsernameLength bound a new account's username.
const (
	MinUsernameLength = 1
	MaxUsernameLength = 32
)

// Account is one local identity: a username, the server it was registered
// against, and the private key that proves ownership of it. It satisfies
// pkg/filetree.KeyProvider directly.
type Account struct {
	username string
	apiURL   string
	priv     crypto.PrivateKey
}

func (a Account) Username() string           { return a.username }
func (a Account) ApiUrl() string              { return a.apiURL }
func (a Account) Public() crypto.PublicKey    { return a.priv.Public() }
func (a Account) Private() crypto.PrivateKey { return a.priv }

// ValidateUsername checks username against the same shape the server
// enforces at NewAccount time, so a bad username fails locally before ever
// reaching the wire.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return lberrors.New(lberrors.ErrUsernameInvalid, "username length out of range")
	}
	for _, r := range username {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		isPunct := r == '.' || r == '_' || r == '-'
		if !isLower && !isDigit && !isPunct {
			return lberrors.New(lberrors.ErrUsernameInvalid, "username may only contain lowercase letters, digits, '.', '_', and '-'")
		}
	}
	return nil
}

// NewAccount generates a fresh identity for username and constructs its
// self-owned root: a Folder owned by the new
// account, with a UserAccessInfo granting the account itself Owner access.
// It performs no I/O; pkg/core is responsible for POSTing NewAccount via
// pkg/wireclient and persisting the result via pkg/localdb, and for writing
// the optional welcome document afterward through pkg/docstore.
func NewAccount(username, apiURL string) (Account, filetree.SignedFile, error) {
	if err := ValidateUsername(username); err != nil {
		return Account{}, filetree.SignedFile{}, err
	}

	priv, err := crypto.GenerateIdentity()
	if err != nil {
		return Account{}, filetree.SignedFile{}, err
	}
	acct := Account{username: username, apiURL: apiURL, priv: priv}

	key, err := crypto.GenerateAesKey()
	if err != nil {
		return Account{}, filetree.SignedFile{}, err
	}
	shared, err := crypto.ECDHShared(priv, acct.Public())
	if err != nil {
		return Account{}, filetree.SignedFile{}, err
	}
	wrapped, err := crypto.AesGcmEncrypt(crypto.AesKey(shared), key[:])
	if err != nil {
		return Account{}, filetree.SignedFile{}, err
	}

	rootID := uuid.New()
	meta := filetree.FileMeta{
		Id:     rootID,
		Type:   filetree.Folder,
		Parent: rootID,
		Owner:  acct.Public(),
		UserAccessKeys: map[string]filetree.UserAccessInfo{
			username: {
				EncryptedBy: acct.Public(),
				Principal:   acct.Public(),
				Mode:        filetree.Owner,
				AccessKey:   wrapped,
			},
		},
	}

	root, err := signed.Sign(priv, meta, time.Now())
	if err != nil {
		return Account{}, filetree.SignedFile{}, err
	}
	return acct, root, nil
}

// envelopeVersion is the leading byte of an exported account string.
// Bumping it is how a future encoding change stays distinguishable from
// this one.
const envelopeVersion byte = 1

// Export encodes a base58 account string: version byte, length-prefixed
// username, length-prefixed api url, length-prefixed private key scalar.
func (a Account) Export() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte(envelopeVersion)
	if err := writeLPString(&buf, a.username); err != nil {
		return "", err
	}
	if err := writeLPString(&buf, a.apiURL); err != nil {
		return "", err
	}
	if err := writeLPBytes(&buf, a.priv.Bytes()); err != nil {
		return "", err
	}
	return encodeBase58(buf.Bytes()), nil
}

// Import decodes a base58 account string produced by Export. It does not
// contact the server; the caller still must verify the decoded public key
// is the one the server has on file for the username before trusting it.
func Import(accountString string) (Account, error) {
	raw, ok := decodeBase58(accountString)
	if !ok {
		return Account{}, lberrors.New(lberrors.ErrInvalidArgument, "account string is not valid base58")
	}
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return Account{}, lberrors.New(lberrors.ErrInvalidArgument, "account string is empty")
	}
	if version != envelopeVersion {
		return Account{}, lberrors.New(lberrors.ErrInvalidArgument, "unsupported account string version")
	}

	username, err := readLPString(r)
	if err != nil {
		return Account{}, err
	}
	apiURL, err := readLPString(r)
	if err != nil {
		return Account{}, err
	}
	keyBytes, err := readLPBytes(r)
	if err != nil {
		return Account{}, err
	}

	priv, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return Account{}, err
	}
	return Account{username: username, apiURL: apiURL, priv: priv}, nil
}

func writeLPBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > 0xffff {
		return lberrors.New(lberrors.ErrInvalidArgument, "field too long to encode")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
	return nil
}

func writeLPString(buf *bytes.Buffer, s string) error {
	return writeLPBytes(buf, []byte(s))
}

func readLPBytes(r *bytes.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, lberrors.New(lberrors.ErrInvalidArgument, "account string is truncated")
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, lberrors.New(lberrors.ErrInvalidArgument, "account string is truncated")
	}
	return out, nil
}

func readLPString(r *bytes.Reader) (string, error) {
	b, err := readLPBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
