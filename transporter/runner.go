package transporter

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/denismitr/pado/internal/ctxlog"
	"github.com/pkg/errors"
)

// Process is a started command.
type Process interface {
	Stdout() io.Reader
	// Wait blocks until the command exits and returns its exit code.
	Wait() (int, error)
}

type Runner interface {
	Start(ctx context.Context, argv []string) (Process, error)
}

// ExecRunner runs commands on the local machine with the current environment.
type ExecRunner struct{}

func (ExecRunner) Start(ctx context.Context, argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.Wrap(ErrInvalidCommand, "empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "could not attach to %s", argv[0])
	}

	p := &execProcess{ctx: ctx, cmd: cmd, stdout: stdout}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "could not start %s", argv[0])
	}
	return p, nil
}

type execProcess struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.Reader
	stderr bytes.Buffer
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.stderr.Len() > 0 {
		ctxlog.FromContext(p.ctx).Debug("command stderr", "cmd", p.cmd.Path, "stderr", p.stderr.String())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	} else if err != nil {
		return -1, errors.Wrapf(err, "%s failed", p.cmd.Path)
	}
	return 0, nil
}

const maxLineBytes = 1 << 20

// CommandIter iterates over the stdout lines of a running command.
type CommandIter struct {
	proc    Process
	scanner *bufio.Scanner
	line    string
	closed  bool
	code    int
	err     error
}

// Iterate starts argv and returns an iterator over its output.
func Iterate(ctx context.Context, r Runner, argv []string) (*CommandIter, error) {
	ctxlog.FromContext(ctx).Info("running", "cmd", commandLine(argv))

	p, err := r.Start(ctx, argv)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(p.Stdout())
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &CommandIter{proc: p, scanner: sc}, nil
}

func (it *CommandIter) Next() bool {
	if it.closed || !it.scanner.Scan() {
		return false
	}
	it.line = strings.TrimRight(it.scanner.Text(), "\r")
	return true
}

func (it *CommandIter) Line() string {
	return it.line
}

// Close drains the remaining output and waits for the command to exit.
func (it *CommandIter) Close() (int, error) {
	if it.closed {
		return it.code, it.err
	}
	it.closed = true

	// the scanner stops at the first line longer than maxLineBytes, the
	// command must still be able to write all of its output
	_, copyErr := io.Copy(io.Discard, it.proc.Stdout())
	scanErr := it.scanner.Err()
	if scanErr == nil {
		scanErr = copyErr
	}

	it.code, it.err = it.proc.Wait()
	if it.err == nil && scanErr != nil {
		it.err = errors.Wrap(scanErr, "could not read command output")
	}
	return it.code, it.err
}

// Run runs argv to completion and returns its exit code.
func Run(ctx context.Context, r Runner, argv []string) (int, error) {
	it, err := Iterate(ctx, r, argv)
	if err != nil {
		return -1, err
	}
	return it.Close()
}

// commandLine quotes arguments containing whitespace or quotes for logs.
func commandLine(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			parts[i] = `'` + strings.ReplaceAll(a, `'`, `'\''`) + `'`
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}
