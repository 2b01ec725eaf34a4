package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banachtech/svi-surface/svi"
	"github.com/banachtech/svi-surface/util"
)

func randomParams(tau float64) svi.Params {
	return svi.Params{
		T: tau,
		A: util.RandomFloat(0.01, 0.1),
		P: util.RandomFloat(-0.9, 0.9),
		B: util.RandomFloat(0.05, 0.5),
		S: util.RandomFloat(0.01, 0.5),
		M: util.RandomFloat(-0.1, 0.1),
	}
}

func TestFindByMaturity(t *testing.T) {
	store := FromParams([]svi.Params{randomParams(0.0027888), randomParams(0.25), randomParams(0.1)})
	require.Equal(t, 3, store.Len())

	type testCases struct {
		name    string
		tau     float64
		want    float64
		wantErr bool
	}

	for _, test := range []testCases{
		{name: "EXACT", tau: 0.25, want: 0.25},
		{name: "WITHIN_TOLERANCE", tau: 0.0027888 + 5e-9, want: 0.0027888},
		{name: "BELOW_WITHIN_TOLERANCE", tau: 0.1 - 9e-9, want: 0.1},
		{name: "BEYOND_TOLERANCE", tau: 0.1 + 2e-8, wantErr: true},
		{name: "BETWEEN_SLICES", tau: 0.2, wantErr: true},
		{name: "OUTSIDE_RANGE", tau: 3, wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			p, err := store.FindByMaturity(test.tau, DefaultTolerance)
			if test.wantErr {
				require.ErrorIs(t, err, ErrMaturityNotFound)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, p.T)
		})
	}

	_, err := NewParamStore().FindByMaturity(0.1, DefaultTolerance)
	require.ErrorIs(t, err, ErrMaturityNotFound)
}

func TestParamStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ParamsFile)
	want := NewParamStore(
		Record{Key: "3", Params: randomParams(0.5)},
		Record{Key: "0", Params: randomParams(0.0027888)},
		Record{Key: "1", Params: randomParams(0.1)},
	)
	require.NoError(t, want.Save(path))

	got, err := LoadParamStore(path)
	require.NoError(t, err)
	require.Equal(t, want.Records(), got.Records())
	require.Equal(t, []float64{0.0027888, 0.1, 0.5}, got.Surface().Maturities())

	_, err = LoadParamStore(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestParamStoreFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), ParamsFile)
	body := `{"0": {"t": 0.0027888, "A": 0.01, "P": -0.3, "B": 0.1, "S": 0.2, "M": 0.0},
	          "2": {"t": 0.02, "A": 0.02, "P": -0.2, "B": 0.2, "S": 0.1, "M": 0.01}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	store, err := LoadParamStore(path)
	require.NoError(t, err)
	p, err := store.FindByMaturity(0.0027888, DefaultTolerance)
	require.NoError(t, err)
	require.Equal(t, svi.Params{T: 0.0027888, A: 0.01, P: -0.3, B: 0.1, S: 0.2}, p)
	require.Equal(t, "2", store.Records()[1].Key)

	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o644))
	_, err = LoadParamStore(path)
	require.Error(t, err)

	_, err = NewParamStore(Record{Key: "0"}, Record{Key: "0"}).MarshalJSON()
	require.Error(t, err)
}
