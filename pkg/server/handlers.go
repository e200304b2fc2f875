package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lockbook/lockbook/internal/logger"
	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/keychain"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/server/authtoken"
	"github.com/lockbook/lockbook/pkg/server/store"
	"github.com/lockbook/lockbook/pkg/signed"
	"github.com/lockbook/lockbook/pkg/wireclient"
)

// handlers holds the dependencies every method handler needs: the
// persistence backend, the operator-configurable clock-skew policy, the
// minimum accepted client version, the flat per-account usage cap, and the
// LB_ADMIN_USERS allowlist admin_purge checks against.
type handlers struct {
	store      store.Store
	window     *authtoken.Window
	minVer     string
	usageCap   uint64
	adminUsers map[string]bool
}

// decodeRequest reads and verifies a signed request envelope, returning the
// decoded method name and raw params. Signature correctness is checked
// against the protocol's fixed default skew (crypto.DefaultSkewWindow, the
// same window pkg/sync's client side enforces); the operator-configurable
// window (cfg.ClockSkew, via authtoken.Window) is checked separately, so a
// deployment can tighten the policy; a window wider than the default admits
// nothing more, since the default-window check has already run.
func (h *handlers) decodeRequest(r *http.Request) (params json.RawMessage, caller crypto.PublicKey, err error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, crypto.PublicKey{}, lberrors.New(lberrors.ErrDiffMalformed, "read request body")
	}

	var envelope wireclient.RequestEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, crypto.PublicKey{}, lberrors.New(lberrors.ErrDiffMalformed, "malformed request envelope")
	}

	if h.minVer != "" && envelope.ClientVersion < h.minVer {
		return nil, crypto.PublicKey{}, lberrors.New(lberrors.ErrClientUpdateRequired, "client version too old")
	}

	sr, err := wireclient.FromSignedRequestDTO(envelope.SignedRequest)
	if err != nil {
		return nil, crypto.PublicKey{}, err
	}

	now := time.Now()
	if err := signed.Verify(sr, now, crypto.DefaultSkewWindow); err != nil {
		return nil, crypto.PublicKey{}, err
	}
	if err := h.window.Verify(sr.Timestamped.TimestampMs, now); err != nil {
		return nil, crypto.PublicKey{}, lberrors.New(lberrors.ErrSignatureInvalid, err.Error())
	}

	return sr.Timestamped.Value.Params, sr.PublicKey, nil
}

func respondOK(w http.ResponseWriter, result any) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		respondErr(w, lberrors.New(lberrors.ErrUnexpected, "encode result"))
		return
	}
	writeEnvelope(w, wireclient.ResultEnvelope{Result: resultJSON})
}

func respondErr(w http.ResponseWriter, err error) {
	writeEnvelope(w, wireclient.ResultEnvelope{Error: wireclient.ToWireError(err)})
}

func writeEnvelope(w http.ResponseWriter, res wireclient.ResultEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func (h *handlers) handleNewAccount(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.NewAccountParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}
	if err := keychain.ValidateUsername(p.Username); err != nil {
		respondErr(w, err)
		return
	}
	pub, err := crypto.PublicKeyFromBytes(p.PublicKey)
	if err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed public key"))
		return
	}
	root, err := wireclient.FromSignedFileDTO(p.Root)
	if err != nil {
		respondErr(w, err)
		return
	}

	if err := h.store.CreateAccount(r.Context(), p.Username, pub, root); err != nil {
		respondErr(w, err)
		return
	}
	ctx := logger.WithContext(r.Context(),
		logger.FromContext(r.Context()).WithMethod("new_account").WithPeer(p.Username))
	logger.InfoCtx(ctx, "account created")
	respondOK(w, wireclient.NewAccountResult{})
}

func (h *handlers) handleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.GetPublicKeyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}

	pub, err := h.store.PublicKey(r.Context(), p.Username)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, wireclient.GetPublicKeyResult{PublicKey: pub.Bytes()})
}

func (h *handlers) handleGetUpdates(w http.ResponseWriter, r *http.Request) {
	raw, caller, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.GetUpdatesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}

	files, latestTs, err := h.store.UpdatesSince(r.Context(), caller, p.SinceVersion)
	if err != nil {
		respondErr(w, err)
		return
	}
	dtos := make([]wireclient.ServerFileDTO, 0, len(files))
	for _, f := range files {
		dtos = append(dtos, wireclient.ToServerFileDTO(f))
	}
	respondOK(w, wireclient.GetUpdatesResult{Files: dtos, LatestServerTs: latestTs})
}

func (h *handlers) handleUpsert(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.UpsertParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}

	diffs := make([]store.FileDiff, 0, len(p.Diffs))
	for _, dto := range p.Diffs {
		newFile, err := wireclient.FromSignedFileDTO(dto.New)
		if err != nil {
			respondErr(w, err)
			return
		}
		d := store.FileDiff{New: newFile}
		if dto.Old != nil {
			old, err := wireclient.FromSignedFileDTO(*dto.Old)
			if err != nil {
				respondErr(w, err)
				return
			}
			d.Old = &old
		}
		diffs = append(diffs, d)
	}

	rejected, err := h.store.Upsert(r.Context(), diffs)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make(map[string]string, len(rejected))
	for id, rerr := range rejected {
		out[id.String()] = wireclient.ToWireError(rerr).Code
	}
	respondOK(w, wireclient.UpsertResult{Rejected: out})
}

func (h *handlers) handleChangeDoc(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.ChangeDocParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}
	if len(p.NewHmac) != 32 {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed new hmac"))
		return
	}
	var newHmac [32]byte
	copy(newHmac[:], p.NewHmac)

	var oldHmac *[32]byte
	if len(p.OldHmac) > 0 {
		if len(p.OldHmac) != 32 {
			respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed old hmac"))
			return
		}
		var oh [32]byte
		copy(oh[:], p.OldHmac)
		oldHmac = &oh
	}

	newVersion, err := h.store.PutDocument(r.Context(), p.Id, oldHmac, newHmac, p.Ciphertext)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, wireclient.ChangeDocResult{NewVersion: newVersion})
}

func (h *handlers) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.GetDocumentParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}
	if len(p.Hmac) != 32 {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed hmac"))
		return
	}
	var hmac [32]byte
	copy(hmac[:], p.Hmac)

	ciphertext, err := h.store.GetDocument(r.Context(), p.Id, hmac)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, wireclient.GetDocumentResult{Ciphertext: ciphertext})
}

func (h *handlers) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	raw, caller, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.GetUsageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}

	perFile, usageCap, err := h.store.Usage(r.Context(), caller)
	if err != nil {
		respondErr(w, err)
		return
	}
	if h.usageCap != 0 {
		usageCap = h.usageCap
	}
	dtos := make([]wireclient.FileUsageDTO, 0, len(perFile))
	for _, u := range perFile {
		dtos = append(dtos, wireclient.FileUsageDTO{Id: u.Id, Size: u.Size})
	}
	respondOK(w, wireclient.GetUsageResult{PerFile: dtos, Cap: usageCap})
}

// handleAdminPurge permanently removes an already-deleted file's record.
// caller must both be on the operator's LB_ADMIN_USERS list and sign as
// the username it claims, so a stolen admin username alone isn't enough
// without the matching private key.
func (h *handlers) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	raw, caller, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.AdminPurgeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}

	if !h.adminUsers[p.Username] {
		respondErr(w, lberrors.New(lberrors.ErrInsufficientPermission, "not an admin user"))
		return
	}
	pub, err := h.store.PublicKey(r.Context(), p.Username)
	if err != nil {
		respondErr(w, err)
		return
	}
	if !pub.Equal(caller) {
		respondErr(w, lberrors.New(lberrors.ErrInsufficientPermission, "signer does not match admin username"))
		return
	}

	if err := h.store.Purge(r.Context(), p.Id); err != nil {
		respondErr(w, err)
		return
	}
	ctx := logger.WithContext(r.Context(),
		logger.FromContext(r.Context()).WithMethod("admin_purge").WithPeer(p.Username))
	logger.WarnCtx(ctx, "file purged", "file_id", p.Id)
	respondOK(w, wireclient.AdminPurgeResult{})
}

func (h *handlers) handleGetSubscriptionInfo(w http.ResponseWriter, r *http.Request) {
	raw, _, err := h.decodeRequest(r)
	if err != nil {
		respondErr(w, err)
		return
	}
	var p wireclient.GetSubscriptionInfoParams
	if err := json.Unmarshal(raw, &p); err != nil {
		respondErr(w, lberrors.New(lberrors.ErrDiffMalformed, "malformed params"))
		return
	}
	respondOK(w, wireclient.GetSubscriptionInfoResult{Info: nil})
}
