package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/denismitr/pado/transporter"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers every command with the output and exit code of reply.
type fakeRunner struct {
	calls [][]string
	reply func(argv []string) (string, int)
}

func (f *fakeRunner) Start(_ context.Context, argv []string) (transporter.Process, error) {
	f.calls = append(f.calls, argv)
	out, code := f.reply(argv)
	return &fakeProcess{stdout: strings.NewReader(out), code: code}, nil
}

type fakeProcess struct {
	stdout io.Reader
	code   int
}

func (p *fakeProcess) Stdout() io.Reader  { return p.stdout }
func (p *fakeProcess) Wait() (int, error) { return p.code, nil }

const rsyncListing = `receiving incremental file list
drwxr-xr-x          4,096 2021/03/01 10:00:00 .
-rw-r--r--    104,857,600 2021/03/01 10:00:00 slide.svs
-rw-r--r--          1,024 2021/03/01 10:00:00 notes.txt

sent 20 bytes  received 120 bytes  280.00 bytes/sec
`

type transporterHarness struct {
	env    *Env
	out    *bytes.Buffer
	errOut *bytes.Buffer
	runner *fakeRunner
	fs     afero.Fs
}

func newTransporterHarness(reply func(argv []string) (string, int)) *transporterHarness {
	h := &transporterHarness{
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		runner: &fakeRunner{reply: reply},
		fs:     afero.NewMemMapFs(),
	}
	h.env = &Env{
		Stdout:     h.out,
		Stderr:     h.errOut,
		Runner:     h.runner,
		ConfigFs:   h.fs,
		ConfigFile: transporter.ConfigFile("/config"),
	}
	return h
}

func (h *transporterHarness) run(args ...string) error {
	h.out.Reset()
	h.errOut.Reset()
	return Execute(context.Background(), NewTransporterCommand(h.env), args)
}

func TestTransporter_Ls(t *testing.T) {
	t.Run("with target", func(t *testing.T) {
		h := newTransporterHarness(func([]string) (string, int) { return rsyncListing, 0 })

		require.NoError(t, h.run("--target", "host", "ls", "/data"))
		assert.Equal(t, ".\nslide.svs\nnotes.txt\n", h.out.String())
		require.Len(t, h.runner.calls, 1)
		assert.Equal(t, []string{"rsync", "-avz", "--list-only", "--no-recursive", `host:"/data"`}, h.runner.calls[0])
	})

	t.Run("match and long", func(t *testing.T) {
		h := newTransporterHarness(func([]string) (string, int) { return rsyncListing, 0 })

		require.NoError(t, h.run("--target", "host", "--tunnel", "jump", "ls", "-r", "-l", "--match", `\.svs$`, "/data"))
		assert.Equal(t, "-rw-r--r--    104,857,600 2021/03/01 10:00:00 slide.svs\n", h.out.String())
		assert.Equal(t, []string{"rsync", "-e", "ssh -A jump ssh", "-avz", "--list-only", `host:"/data"`}, h.runner.calls[0])
	})

	t.Run("no target configured", func(t *testing.T) {
		h := newTransporterHarness(func([]string) (string, int) { return rsyncListing, 0 })

		err := h.run("ls", "/data")
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, "ERROR: please provide target or configure via `config` subcommand", exitErr.Message)
		assert.Empty(t, h.runner.calls)
	})

	t.Run("rsync fails", func(t *testing.T) {
		h := newTransporterHarness(func([]string) (string, int) { return "", 23 })

		err := h.run("--target", "host", "ls", "/data")
		assert.Equal(t, 1, exitCode(t, err))
		assert.Contains(t, err.Error(), "return code 23")
	})
}

func TestTransporter_Config(t *testing.T) {
	h := newTransporterHarness(func([]string) (string, int) { return rsyncListing, 0 })

	err := h.run("config")
	assert.Equal(t, 2, exitCode(t, err))

	require.NoError(t, h.run("--target", "host", "--tunnel", "jump", "config"))
	assert.Contains(t, h.out.String(), "config written to")

	require.NoError(t, h.run("config"))
	assert.Equal(t, "target_host = \"host\"\ntunnel_host = \"jump\"\n", h.out.String())

	require.NoError(t, h.run("ls", "/data"))
	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, []string{"rsync", "-e", "ssh -A jump ssh", "-avz", "--list-only", "--no-recursive", `host:"/data"`}, h.runner.calls[0])
}

func TestTransporter_Check(t *testing.T) {
	t.Run("established", func(t *testing.T) {
		h := newTransporterHarness(func([]string) (string, int) { return "", 0 })

		require.NoError(t, h.run("--target", "host", "check"))
		assert.Equal(t, "connection to 'host' established\n", h.out.String())
	})

	t.Run("tunnel reachable", func(t *testing.T) {
		// only the direct login to the tunnel succeeds
		h := newTransporterHarness(func(argv []string) (string, int) {
			if len(argv) == 8 && argv[5] == "jump" {
				return "", 0
			}
			return "", 255
		})

		err := h.run("--target", "host", "--tunnel", "jump", "check")
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 1, exitErr.Code)
		assert.Contains(t, exitErr.Message, "SUGGESTED FIX: add your public ssh key from 'jump' to your remote machine 'host'")
		assert.Len(t, h.runner.calls, 2)
	})
}

func TestTransporter_Transfer(t *testing.T) {
	h := newTransporterHarness(func([]string) (string, int) { return "sending incremental file list\nslide.svs\n", 0 })

	require.NoError(t, h.run("--target", "host", "pull", "/remote/slide.svs", "/local"))
	assert.Equal(t, "sending incremental file list\nslide.svs\n", h.out.String())
	assert.Equal(t, []string{"rsync", "-avz", "--progress", `host:"/remote/slide.svs"`, "/local"}, h.runner.calls[0])

	require.NoError(t, h.run("--target", "host", "--tunnel", "jump", "push", "-q", "/local/slide.svs", "/remote"))
	assert.Empty(t, h.out.String())
	assert.Equal(t, []string{"rsync", "-e", "ssh -A jump ssh", "-avz", "--progress", "/local/slide.svs", `host:"/remote"`}, h.runner.calls[1])

	assert.Equal(t, 2, exitCode(t, h.run("--target", "host", "pull", "/only-src")))
}
