package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseThreshold(t *testing.T) {
	testCases := []struct {
		name    string
		in      string
		want    float64
		wantErr bool
	}{
		{name: "DEFAULT", in: "0.1", want: 0.1},
		{name: "ZERO", in: "0", want: 0},
		{name: "ONE", in: "1", want: 1},
		{name: "NEGATIVE", in: "-0.1", wantErr: true},
		{name: "ABOVE_ONE", in: "1.5", wantErr: true},
		{name: "NOT_A_NUMBER", in: "0.1abc", wantErr: true},
	}

	for i := range testCases {
		tc := testCases[i]
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseThreshold(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRootCommand(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"initial", "calconly", "serve"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}

	calc, _, err := root.Find([]string{"calconly"})
	require.NoError(t, err)
	tau, err := calc.Flags().GetFloat64("tau")
	require.NoError(t, err)
	require.Equal(t, 0.0027888, tau)

	// bad flags are rejected before any network or file access
	for _, args := range [][]string{
		{"initial", "--source", "recal"},
		{"initial", "--source", "stored"},
		{"initial", "--source", "stored", "--timestamp", "20230915_080000", "--bsthres", "2"},
	} {
		root := rootCmd()
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		require.Error(t, root.Execute(), args)
	}
}
