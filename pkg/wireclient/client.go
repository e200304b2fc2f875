package wireclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lockbook/lockbook/pkg/core"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
	syncengine "github.com/lockbook/lockbook/pkg/sync"
)

// ClientVersion is the version string sent on every request envelope; the
// server compares it against its own minimum and returns
// ErrClientUpdateRequired when a caller is too old.
const ClientVersion = "0.1.0"

// Client is the Lockbook server's HTTP client. It implements both
// pkg/sync.Transport and pkg/core.UsageTransport, so pkg/core's caller
// wires one Client into both.
//
// There is no session token or login step: every request carries its own
// signed envelope, and the identity keypair stands in for the bearer
// token a conventional API client would hold.
type Client struct {
	baseURL    string
	httpClient *http.Client
	priv       crypto.PrivateKey
}

var _ syncengine.Transport = (*Client)(nil)
var _ core.UsageTransport = (*Client)(nil)

// New creates a client that signs every request with priv.
func New(baseURL string, priv crypto.PrivateKey) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		priv:       priv,
	}
}

// call marshals params, wraps it in a signed request envelope, POSTs it to
// path, and decodes the result into out (nil if the method returns nothing).
func (c *Client) call(ctx context.Context, method, path string, params any, out any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return requestErr(method, err)
	}

	signedReq, err := signed.Sign(c.priv, RequestParams{Method: method, Params: paramsJSON}, time.Now())
	if err != nil {
		return err
	}
	envelope := RequestEnvelope{
		SignedRequest: ToSignedRequestDTO(signedReq),
		ClientVersion: ClientVersion,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return requestErr(method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return requestErr(method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return requestErr(method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestErr(method, err)
	}

	var result ResultEnvelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return requestErr(method, fmt.Errorf("decode response: %w", err))
	}
	if result.Error != nil {
		return result.Error.ToLbError()
	}
	if out != nil && len(result.Result) > 0 {
		if err := json.Unmarshal(result.Result, out); err != nil {
			return requestErr(method, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

// NewAccount registers a freshly generated identity and its root folder
// with the server.
func (c *Client) NewAccount(ctx context.Context, username string, pub crypto.PublicKey, root filetree.SignedFile) error {
	params := NewAccountParams{Username: username, PublicKey: pub.Bytes(), Root: ToSignedFileDTO(root)}
	return c.call(ctx, "new_account", "/api/new_account", params, nil)
}

// GetPublicKey resolves a username to its identity public key, used when
// sharing a file with someone by name.
func (c *Client) GetPublicKey(ctx context.Context, username string) (crypto.PublicKey, error) {
	var res GetPublicKeyResult
	if err := c.call(ctx, "get_public_key", "/api/get_public_key", GetPublicKeyParams{Username: username}, &res); err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.PublicKeyFromBytes(res.PublicKey)
}

// GetUpdates implements pkg/sync.Transport.
func (c *Client) GetUpdates(ctx context.Context, sinceVersion uint64) (syncengine.GetUpdatesResult, error) {
	var res GetUpdatesResult
	if err := c.call(ctx, "get_updates", "/api/get_updates", GetUpdatesParams{SinceVersion: sinceVersion}, &res); err != nil {
		return syncengine.GetUpdatesResult{}, err
	}
	files := make([]filetree.ServerFile, 0, len(res.Files))
	for _, dto := range res.Files {
		f, err := FromServerFileDTO(dto)
		if err != nil {
			return syncengine.GetUpdatesResult{}, err
		}
		files = append(files, f)
	}
	return syncengine.GetUpdatesResult{Files: files, LatestServerTs: res.LatestServerTs}, nil
}

// Upsert implements pkg/sync.Transport.
func (c *Client) Upsert(ctx context.Context, diffs []syncengine.FileDiff) (syncengine.UpsertResult, error) {
	dtoDiffs := make([]FileDiffDTO, 0, len(diffs))
	for _, d := range diffs {
		dto := FileDiffDTO{New: ToSignedFileDTO(d.New)}
		if d.Old != nil {
			old := ToSignedFileDTO(*d.Old)
			dto.Old = &old
		}
		dtoDiffs = append(dtoDiffs, dto)
	}

	var res UpsertResult
	if err := c.call(ctx, "upsert", "/api/upsert", UpsertParams{Diffs: dtoDiffs}, &res); err != nil {
		return syncengine.UpsertResult{}, err
	}

	rejected := make(map[uuid.UUID]error, len(res.Rejected))
	for idStr, codeName := range res.Rejected {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return syncengine.UpsertResult{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed rejection id in upsert result")
		}
		we := &WireError{Code: codeName, Message: codeName}
		rejected[id] = we.ToLbError()
	}
	return syncengine.UpsertResult{Rejected: rejected}, nil
}

// ChangeDoc implements pkg/sync.Transport.
func (c *Client) ChangeDoc(ctx context.Context, id uuid.UUID, oldHmac *[32]byte, newHmac [32]byte, ciphertext []byte) (uint64, error) {
	params := ChangeDocParams{Id: id, NewHmac: newHmac[:], Ciphertext: ciphertext}
	if oldHmac != nil {
		params.OldHmac = oldHmac[:]
	}
	var res ChangeDocResult
	if err := c.call(ctx, "change_doc", "/api/change_doc", params, &res); err != nil {
		return 0, err
	}
	return res.NewVersion, nil
}

// GetDocument implements pkg/sync.Transport.
func (c *Client) GetDocument(ctx context.Context, id uuid.UUID, hmac [32]byte) ([]byte, error) {
	var res GetDocumentResult
	if err := c.call(ctx, "get_document", "/api/get_document", GetDocumentParams{Id: id, Hmac: hmac[:]}, &res); err != nil {
		return nil, err
	}
	return res.Ciphertext, nil
}

// GetUsage implements pkg/core.UsageTransport.
func (c *Client) GetUsage(ctx context.Context) (core.ServerUsage, error) {
	var res GetUsageResult
	if err := c.call(ctx, "get_usage", "/api/get_usage", GetUsageParams{}, &res); err != nil {
		return core.ServerUsage{}, err
	}
	perFile := make([]core.FileUsage, 0, len(res.PerFile))
	for _, f := range res.PerFile {
		perFile = append(perFile, core.FileUsage{Id: f.Id, Size: f.Size})
	}
	return core.ServerUsage{PerFile: perFile, Cap: res.Cap}, nil
}

// GetSubscriptionInfo reports the account's plan, nil if on the free tier.
func (c *Client) GetSubscriptionInfo(ctx context.Context) (*SubscriptionInfoDTO, error) {
	var res GetSubscriptionInfoResult
	if err := c.call(ctx, "get_subscription_info", "/api/get_subscription_info", GetSubscriptionInfoParams{}, &res); err != nil {
		return nil, err
	}
	return res.Info, nil
}

// AdminPurge asks the server to permanently remove an already-deleted
// file's record. username identifies the caller to the server's
// LB_ADMIN_USERS check; the request is rejected with
// ErrInsufficientPermission if username isn't on that list or doesn't
// match the signing key.
func (c *Client) AdminPurge(ctx context.Context, username string, id uuid.UUID) error {
	var res AdminPurgeResult
	return c.call(ctx, "admin_purge", "/api/admin_purge", AdminPurgeParams{Username: username, Id: id}, &res)
}
