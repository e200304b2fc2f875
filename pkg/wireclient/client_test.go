package wireclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/lockbook/lockbook/pkg/filetree/filetreetest"
	"github.com/lockbook/lockbook/pkg/lberrors"
	"github.com/lockbook/lockbook/pkg/signed"
	syncengine "github.com/lockbook/lockbook/pkg/sync"
	"github.com/stretchr/testify/require"
)

// fakeServer captures the last envelope it received and replies with a
// canned ResultEnvelope, so client.go's request/response plumbing can be
// exercised without pkg/server.
func fakeServer(t *testing.T, respond func(method string, params json.RawMessage) ResultEnvelope) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope RequestEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		require.Equal(t, ClientVersion, envelope.ClientVersion)

		sr, err := FromSignedRequestDTO(envelope.SignedRequest)
		require.NoError(t, err)
		require.NoError(t, signed.Verify(sr, time.Now(), crypto.DefaultSkewWindow))

		res := respond(sr.Timestamped.Value.Method, sr.Timestamped.Value.Params)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(res))
	}))
}

func TestClientGetPublicKeyRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	wantPub, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	srv := fakeServer(t, func(method string, params json.RawMessage) ResultEnvelope {
		require.Equal(t, "get_public_key", method)
		var p GetPublicKeyParams
		require.NoError(t, json.Unmarshal(params, &p))
		require.Equal(t, "alice", p.Username)

		resJSON, err := json.Marshal(GetPublicKeyResult{PublicKey: wantPub.Public().Bytes()})
		require.NoError(t, err)
		return ResultEnvelope{Result: resJSON}
	})
	defer srv.Close()

	c := New(srv.URL, priv)
	got, err := c.GetPublicKey(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, got.Equal(wantPub.Public()))
}

func TestClientSurfacesWireError(t *testing.T) {
	priv, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	srv := fakeServer(t, func(method string, params json.RawMessage) ResultEnvelope {
		return ResultEnvelope{Error: &WireError{Code: lberrors.ErrUsernameTaken.String(), Message: "taken"}}
	})
	defer srv.Close()

	c := New(srv.URL, priv)
	_, err = c.GetPublicKey(context.Background(), "bob")
	require.True(t, lberrors.Is(err, lberrors.ErrUsernameTaken))
}

func TestClientUpsertRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	acct := filetreetest.NewAccount(t, "carol")
	b := filetreetest.NewBuilder(t, acct)
	rootID := b.Root()

	root, ok := b.Map().MaybeFind(rootID)
	require.True(t, ok)

	srv := fakeServer(t, func(method string, params json.RawMessage) ResultEnvelope {
		require.Equal(t, "upsert", method)
		var p UpsertParams
		require.NoError(t, json.Unmarshal(params, &p))
		require.Len(t, p.Diffs, 1)
		require.Nil(t, p.Diffs[0].Old)

		resJSON, _ := json.Marshal(UpsertResult{})
		return ResultEnvelope{Result: resJSON}
	})
	defer srv.Close()

	c := New(srv.URL, priv)
	res, err := c.Upsert(context.Background(), []syncengine.FileDiff{{New: root}})
	require.NoError(t, err)
	require.Empty(t, res.Rejected)
}
