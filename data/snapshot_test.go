package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := testSnapshot(t)
	for i := range snap.Options {
		snap.Options[i].Spot, snap.Options[i].T0 = snap.Spot, snap.T0
	}
	for i := range snap.Futures {
		snap.Futures[i].Spot, snap.Futures[i].T0 = snap.Spot, snap.T0
	}

	root, err := SaveSnapshot(dir, snap)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, snap.Label), root)
	require.FileExists(t, filepath.Join(root, OptionsFile))
	require.FileExists(t, filepath.Join(root, FuturesFile))

	got, err := LoadSnapshot(dir, snap.Label)
	require.NoError(t, err)
	require.Equal(t, snap.Label, got.Label)
	require.Equal(t, snap.Spot, got.Spot)
	require.True(t, snap.T0.Equal(got.T0))
	require.Len(t, got.Options, len(snap.Options))
	require.Len(t, got.Futures, len(snap.Futures))
	for i := range snap.Options {
		require.Equal(t, snap.Options[i].Type, got.Options[i].Type)
		require.Equal(t, snap.Options[i].Strike, got.Options[i].Strike)
		require.Equal(t, snap.Options[i].Expiration, got.Options[i].Expiration)
		require.Equal(t, snap.Options[i].ImpliedVol, got.Options[i].ImpliedVol)
		require.Equal(t, snap.Options[i].MarkPrice, got.Options[i].MarkPrice)
	}
	require.Equal(t, snap.Futures[2].MarkPrice, got.Futures[2].MarkPrice)

	// a stored snapshot cleans like the live one
	want, _, err := NewCleaner().Clean(snap)
	require.NoError(t, err)
	have, _, err := NewCleaner().Clean(got)
	require.NoError(t, err)
	require.Equal(t, want, have)
}

func TestLoadSnapshotErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSnapshot(dir, "not-a-stamp")
	require.Error(t, err)

	_, err = LoadSnapshot(dir, "20230915_080000")
	require.Error(t, err)

	root := filepath.Join(dir, "20230915_080000")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, OptionsFile), []byte("type,strike\ncall,100\n"), 0o644))
	_, err = LoadSnapshot(dir, "20230915_080000")
	require.ErrorContains(t, err, "missing column")

	require.NoError(t, os.WriteFile(filepath.Join(root, OptionsFile),
		[]byte("type,strike,expiration,implied_volatility,mark_price,spot,utc_t0\ncall,abc,1,0.5,0,30000,2023-09-15T08:00:00Z\n"), 0o644))
	_, err = LoadSnapshot(dir, "20230915_080000")
	require.ErrorContains(t, err, "column strike")
}
