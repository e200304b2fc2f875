package authtoken

import (
	"testing"
	"time"

	"github.com/lockbook/lockbook/pkg/crypto"
	"github.com/stretchr/testify/require"
)

func TestWindowAcceptsTimestampWithinSkew(t *testing.T) {
	w := New(crypto.DefaultSkewWindow)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, w.Verify(now.Add(-30*time.Minute).UnixMilli(), now))
	require.NoError(t, w.Verify(now.Add(2*time.Minute).UnixMilli(), now))
}

func TestWindowRejectsTimestampOutsideSkew(t *testing.T) {
	w := New(crypto.DefaultSkewWindow)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.Error(t, w.Verify(now.Add(-2*time.Hour).UnixMilli(), now))
	require.Error(t, w.Verify(now.Add(10*time.Minute).UnixMilli(), now))
}
