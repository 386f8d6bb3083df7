package transporter

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

type TransferOptions struct {
	Target string
	Tunnel string
	// Progress receives the rsync output lines.
	Progress io.Writer
}

// Pull copies src on the target host to the local dst.
func Pull(ctx context.Context, r Runner, src, dst string, opts TransferOptions) error {
	if opts.Target == "" {
		return errors.Wrap(ErrInvalidCommand, "target required")
	}
	return transfer(ctx, r, RemotePath(opts.Target, src), dst, opts)
}

// Push copies the local src to dst on the target host.
func Push(ctx context.Context, r Runner, src, dst string, opts TransferOptions) error {
	if opts.Target == "" {
		return errors.Wrap(ErrInvalidCommand, "target required")
	}
	return transfer(ctx, r, src, RemotePath(opts.Target, dst), opts)
}

func transfer(ctx context.Context, r Runner, src, dst string, opts TransferOptions) error {
	argv, err := RsyncCommand(remoteShell(opts.Tunnel), "-avz", "--progress")
	if err != nil {
		return err
	}
	argv = append(argv, src, dst)

	it, err := Iterate(ctx, r, argv)
	if err != nil {
		return err
	}

	for it.Next() {
		if opts.Progress != nil {
			fmt.Fprintln(opts.Progress, it.Line())
		}
	}

	code, err := it.Close()
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.Wrapf(ErrCommandFailed, "rsync exited with return code %d", code)
	}
	return nil
}
