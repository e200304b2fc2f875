// Package wireclient is the HTTP client for the Lockbook wire protocol: an
// envelope wrapping a Signed(method, params) request and a typed
// Result<T, ErrKind> response. Every domain type in pkg/filetree has a
// JSON wire twin here, with validator/v10 struct tags, used at the HTTP
// boundary and as the persisted form in pkg/localdb and pgstore — pkg/sync
// and pkg/core never import this package.
package wireclient

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
)

// SignatureDTO is the wire twin of crypto.Signature.
type SignatureDTO struct {
	TimestampMs int64  `json:"timestamp_ms" validate:"required"`
	R           []byte `json:"r" validate:"required"`
	S           []byte `json:"s" validate:"required"`
}

// EncryptedValueDTO is the wire twin of crypto.EncryptedValue.
type EncryptedValueDTO struct {
	Value []byte `json:"value"`
	Nonce []byte `json:"nonce"`
}

// SecretNameDTO is the wire twin of filetree.SecretName.
type SecretNameDTO struct {
	Ciphertext EncryptedValueDTO `json:"ciphertext"`
	Hmac       []byte            `json:"hmac" validate:"len=32"`
}

// UserAccessInfoDTO is the wire twin of filetree.UserAccessInfo.
type UserAccessInfoDTO struct {
	EncryptedBy []byte            `json:"encrypted_by" validate:"required"`
	Principal   []byte            `json:"principal" validate:"required"`
	Mode        int               `json:"mode"`
	AccessKey   EncryptedValueDTO `json:"access_key"`
	Deleted     bool              `json:"deleted"`
}

// FileMetaDTO is the wire twin of filetree.FileMeta.
type FileMetaDTO struct {
	Id              uuid.UUID                   `json:"id" validate:"required"`
	Type            int                         `json:"type"`
	Target          uuid.UUID                   `json:"target"`
	Parent          uuid.UUID                   `json:"parent" validate:"required"`
	Owner           []byte                      `json:"owner" validate:"required"`
	Name            SecretNameDTO               `json:"name"`
	IsDeleted       bool                        `json:"is_deleted"`
	DocumentHmac    []byte                      `json:"document_hmac,omitempty"`
	UserAccessKeys  map[string]UserAccessInfoDTO `json:"user_access_keys,omitempty"`
	FolderAccessKey EncryptedValueDTO           `json:"folder_access_key"`
	Version         uint64                      `json:"version"`
}

// SignedFileDTO is the wire twin of filetree.SignedFile.
type SignedFileDTO struct {
	TimestampMs int64        `json:"timestamp_ms" validate:"required"`
	Meta        FileMetaDTO  `json:"meta" validate:"required"`
	Signature   SignatureDTO `json:"signature" validate:"required"`
	PublicKey   []byte       `json:"public_key" validate:"required"`
}

// ServerFileDTO is the wire twin of filetree.ServerFile.
type ServerFileDTO struct {
	SignedFileDTO
	Version uint64 `json:"version"`
}

// ToFileMetaDTO converts a domain FileMeta to its wire form.
func ToFileMetaDTO(m filetree.FileMeta) FileMetaDTO {
	dto := FileMetaDTO{
		Id:        m.Id,
		Type:      int(m.Type),
		Target:    m.Target,
		Parent:    m.Parent,
		Owner:     m.Owner.Bytes(),
		IsDeleted: m.IsDeleted,
		Name: SecretNameDTO{
			Ciphertext: EncryptedValueDTO{Value: m.Name.Ciphertext.Value, Nonce: m.Name.Ciphertext.Nonce},
			Hmac:       m.Name.Hmac[:],
		},
		FolderAccessKey: EncryptedValueDTO{Value: m.FolderAccessKey.Value, Nonce: m.FolderAccessKey.Nonce},
		Version:         m.Version,
	}
	if m.DocumentHmac != nil {
		dto.DocumentHmac = m.DocumentHmac[:]
	}
	if len(m.UserAccessKeys) > 0 {
		dto.UserAccessKeys = make(map[string]UserAccessInfoDTO, len(m.UserAccessKeys))
		for user, info := range m.UserAccessKeys {
			dto.UserAccessKeys[user] = UserAccessInfoDTO{
				EncryptedBy: info.EncryptedBy.Bytes(),
				Principal:   info.Principal.Bytes(),
				Mode:        int(info.Mode),
				AccessKey:   EncryptedValueDTO{Value: info.AccessKey.Value, Nonce: info.AccessKey.Nonce},
				Deleted:     info.Deleted,
			}
		}
	}
	return dto
}

// FromFileMetaDTO converts a wire FileMetaDTO back to the domain FileMeta.
func FromFileMetaDTO(dto FileMetaDTO) (filetree.FileMeta, error) {
	owner, err := crypto.PublicKeyFromBytes(dto.Owner)
	if err != nil {
		return filetree.FileMeta{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed owner key")
	}
	if len(dto.Name.Hmac) != 32 {
		return filetree.FileMeta{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed name hmac")
	}
	m := filetree.FileMeta{
		Id:        dto.Id,
		Type:      filetree.FileType(dto.Type),
		Target:    dto.Target,
		Parent:    dto.Parent,
		Owner:     owner,
		IsDeleted: dto.IsDeleted,
		Name: filetree.SecretName{
			Ciphertext: crypto.EncryptedValue{Value: dto.Name.Ciphertext.Value, Nonce: dto.Name.Ciphertext.Nonce},
		},
		FolderAccessKey: crypto.EncryptedValue{Value: dto.FolderAccessKey.Value, Nonce: dto.FolderAccessKey.Nonce},
		Version:         dto.Version,
	}
	copy(m.Name.Hmac[:], dto.Name.Hmac)
	if len(dto.DocumentHmac) > 0 {
		if len(dto.DocumentHmac) != 32 {
			return filetree.FileMeta{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed document hmac")
		}
		var h [32]byte
		copy(h[:], dto.DocumentHmac)
		m.DocumentHmac = &h
	}
	if len(dto.UserAccessKeys) > 0 {
		m.UserAccessKeys = make(map[string]filetree.UserAccessInfo, len(dto.UserAccessKeys))
		for user, info := range dto.UserAccessKeys {
			encBy, err := crypto.PublicKeyFromBytes(info.EncryptedBy)
			if err != nil {
				return filetree.FileMeta{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed access-info key")
			}
			principal, err := crypto.PublicKeyFromBytes(info.Principal)
			if err != nil {
				return filetree.FileMeta{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed access-info principal")
			}
			m.UserAccessKeys[user] = filetree.UserAccessInfo{
				EncryptedBy: encBy,
				Principal:   principal,
				Mode:        filetree.AccessMode(info.Mode),
				AccessKey:   crypto.EncryptedValue{Value: info.AccessKey.Value, Nonce: info.AccessKey.Nonce},
				Deleted:     info.Deleted,
			}
		}
	}
	return m, nil
}

// ToSignedFileDTO converts a domain SignedFile to its wire form.
func ToSignedFileDTO(sf filetree.SignedFile) SignedFileDTO {
	return SignedFileDTO{
		TimestampMs: sf.Timestamped.TimestampMs,
		Meta:        ToFileMetaDTO(sf.Timestamped.Value),
		Signature: SignatureDTO{
			TimestampMs: sf.Signature.TimestampMs,
			R:           sf.Signature.R,
			S:           sf.Signature.S,
		},
		PublicKey: sf.PublicKey.Bytes(),
	}
}

// FromSignedFileDTO converts a wire SignedFileDTO back to the domain
// SignedFile. It does not verify the signature; callers run it through
// pkg/filetree/validate (client) or signed.Verify directly (server) once
// they have assembled the full tree context.
func FromSignedFileDTO(dto SignedFileDTO) (filetree.SignedFile, error) {
	meta, err := FromFileMetaDTO(dto.Meta)
	if err != nil {
		return filetree.SignedFile{}, err
	}
	pub, err := crypto.PublicKeyFromBytes(dto.PublicKey)
	if err != nil {
		return filetree.SignedFile{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed public key")
	}
	return filetree.SignedFile{
		Timestamped: signed.Value[filetree.FileMeta]{TimestampMs: dto.TimestampMs, Value: meta},
		Signature: crypto.Signature{
			TimestampMs: dto.Signature.TimestampMs,
			R:           dto.Signature.R,
			S:           dto.Signature.S,
		},
		PublicKey: pub,
	}, nil
}

// ToServerFileDTO converts a domain ServerFile to its wire form.
func ToServerFileDTO(sf filetree.ServerFile) ServerFileDTO {
	return ServerFileDTO{SignedFileDTO: ToSignedFileDTO(sf.SignedFile), Version: sf.Version}
}

// FromServerFileDTO converts a wire ServerFileDTO back to the domain
// ServerFile.
func FromServerFileDTO(dto ServerFileDTO) (filetree.ServerFile, error) {
	sf, err := FromSignedFileDTO(dto.SignedFileDTO)
	if err != nil {
		return filetree.ServerFile{}, err
	}
	return filetree.ServerFile{SignedFile: sf, Version: dto.Version}, nil
}

// --- Method params/results ---

type NewAccountParams struct {
	Username  string        `json:"username" validate:"required,min=1,max=32"`
	PublicKey []byte        `json:"public_key" validate:"required"`
	Root      SignedFileDTO `json:"root" validate:"required"`
}

type NewAccountResult struct{}

type GetPublicKeyParams struct {
	Username string `json:"username" validate:"required"`
}

type GetPublicKeyResult struct {
	PublicKey []byte `json:"public_key"`
}

type GetUpdatesParams struct {
	SinceVersion uint64 `json:"since_version"`
}

type GetUpdatesResult struct {
	Files          []ServerFileDTO `json:"files"`
	LatestServerTs int64           `json:"latest_server_ts"`
}

type FileDiffDTO struct {
	Old *SignedFileDTO `json:"old,omitempty"`
	New SignedFileDTO  `json:"new" validate:"required"`
}

type UpsertParams struct {
	Diffs []FileDiffDTO `json:"diffs" validate:"required,dive"`
}

// UpsertResult reports per-diff rejections keyed by file id (string form),
// with each rejection's error code name (OldVersionRequired /
// NotPermissioned / DeletedFileUpdated / PathTaken /
// RootModificationInvalid).
type UpsertResult struct {
	Rejected map[string]string `json:"rejected,omitempty"`
}

type ChangeDocParams struct {
	Id         uuid.UUID `json:"id" validate:"required"`
	OldHmac    []byte    `json:"old_hmac,omitempty"`
	NewHmac    []byte    `json:"new_hmac" validate:"len=32"`
	Ciphertext []byte    `json:"ciphertext" validate:"required"`
}

type ChangeDocResult struct {
	NewVersion uint64 `json:"new_version"`
}

type GetDocumentParams struct {
	Id   uuid.UUID `json:"id" validate:"required"`
	Hmac []byte    `json:"hmac" validate:"len=32"`
}

type GetDocumentResult struct {
	Ciphertext []byte `json:"ciphertext"`
}

type GetUsageParams struct{}

type FileUsageDTO struct {
	Id   uuid.UUID `json:"id"`
	Size uint64    `json:"size"`
}

type GetUsageResult struct {
	PerFile []FileUsageDTO `json:"per_file"`
	Cap     uint64         `json:"cap"`
}

type GetSubscriptionInfoParams struct{}

type SubscriptionInfoDTO struct {
	Tier      string `json:"tier"`
	RenewsMs  int64  `json:"renews_ms,omitempty"`
}

type GetSubscriptionInfoResult struct {
	Info *SubscriptionInfoDTO `json:"info,omitempty"`
}

// AdminPurgeParams requests permanent removal of an already-deleted file's
// server-side record. Username identifies the caller so the server can
// check it against its configured admin list; the request is still
// authenticated by the caller's signature like every other method.
type AdminPurgeParams struct {
	Username string    `json:"username" validate:"required"`
	Id       uuid.UUID `json:"id" validate:"required"`
}

type AdminPurgeResult struct{}

// --- Request/response envelope ---

// RequestParams is what the client signs: a method name plus its
// already-marshaled JSON params. signed.Sign/signed.Verify operate over
// this via Canonicalize, so the envelope's signature covers exactly what
// the server dispatches on.
type RequestParams struct {
	Method string
	Params json.RawMessage
}

// Canonicalize implements signed.Canonicalizer.
func (p RequestParams) Canonicalize(e *signed.Encoder) {
	e.String(p.Method)
	e.Opaque(p.Params)
}

// SignedRequestDTO is the wire form of signed.Signed[RequestParams].
type SignedRequestDTO struct {
	TimestampMs int64           `json:"timestamp_ms" validate:"required"`
	Method      string          `json:"method" validate:"required"`
	Params      json.RawMessage `json:"params" validate:"required"`
	Signature   SignatureDTO    `json:"signature" validate:"required"`
	PublicKey   []byte          `json:"public_key" validate:"required"`
}

// RequestEnvelope is the full request body every method sends: the signed
// request plus the caller's client version.
type RequestEnvelope struct {
	SignedRequest SignedRequestDTO `json:"signed_request" validate:"required"`
	ClientVersion string           `json:"client_version" validate:"required"`
}

// ToSignedRequestDTO converts a signed RequestParams envelope to its wire
// form.
func ToSignedRequestDTO(s signed.Signed[RequestParams]) SignedRequestDTO {
	return SignedRequestDTO{
		TimestampMs: s.Timestamped.TimestampMs,
		Method:      s.Timestamped.Value.Method,
		Params:      s.Timestamped.Value.Params,
		Signature: SignatureDTO{
			TimestampMs: s.Signature.TimestampMs,
			R:           s.Signature.R,
			S:           s.Signature.S,
		},
		PublicKey: s.PublicKey.Bytes(),
	}
}

// FromSignedRequestDTO converts a wire SignedRequestDTO back to the domain
// signed.Signed[RequestParams]; used server-side before calling
// signed.Verify.
func FromSignedRequestDTO(dto SignedRequestDTO) (signed.Signed[RequestParams], error) {
	pub, err := crypto.PublicKeyFromBytes(dto.PublicKey)
	if err != nil {
		return signed.Signed[RequestParams]{}, lberrors.New(lberrors.ErrInvalidAuth, "malformed request public key")
	}
	return signed.Signed[RequestParams]{
		Timestamped: signed.Value[RequestParams]{
			TimestampMs: dto.TimestampMs,
			Value:       RequestParams{Method: dto.Method, Params: dto.Params},
		},
		Signature: crypto.Signature{TimestampMs: dto.Signature.TimestampMs, R: dto.Signature.R, S: dto.Signature.S},
		PublicKey: pub,
	}, nil
}

// ResultEnvelope is the server's reply: exactly one of Result or Error is
// populated.
type ResultEnvelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is the JSON form of an lberrors.LbError crossing the wire.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
