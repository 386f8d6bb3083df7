package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/denismitr/pado/internal/buildinfo"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	err := run(context.Background(), out, errOut, []string{"--version"})

	require.NoError(t, err)
	require.Equal(t, buildinfo.Version+"\n", out.String())
}

func TestRun_Help(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	err := run(context.Background(), out, errOut, nil)

	require.NoError(t, err)
	require.Contains(t, out.String(), "PADO.TRANSPORTER")
	require.Contains(t, out.String(), "pull")
}
