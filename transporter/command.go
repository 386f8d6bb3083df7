// Package transporter moves dataset files between hosts with rsync over
// passwordless ssh, optionally through a tunnel host.
package transporter

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	SSHExecutable   = "ssh"
	RsyncExecutable = "rsync"
)

var ErrInvalidCommand = errors.New("invalid command")

// SSHCommand runs cmd on remote without ever prompting for a password.
func SSHCommand(remote string, cmd ...string) ([]string, error) {
	if len(cmd) == 0 {
		return nil, errors.Wrap(ErrInvalidCommand, "command required")
	}
	if remote == "" {
		return nil, errors.Wrap(ErrInvalidCommand, "remote required")
	}

	argv := []string{
		SSHExecutable,
		"-o", "PasswordAuthentication=no",
		"-o", "BatchMode=yes",
		remote,
		"--",
	}
	return append(argv, cmd...), nil
}

// RsyncCommand builds an rsync invocation. Every option has to start with "-".
func RsyncCommand(remoteShell string, options ...string) ([]string, error) {
	argv := []string{RsyncExecutable}
	if remoteShell != "" {
		if strings.Contains(remoteShell, `"`) {
			return nil, errors.Wrapf(ErrInvalidCommand, "double quote character in remote shell %q", remoteShell)
		}
		argv = append(argv, "-e", remoteShell)
	}

	for _, o := range options {
		if !strings.HasPrefix(o, "-") {
			return nil, errors.Wrapf(ErrInvalidCommand, "option %q does not start with '-'", o)
		}
		argv = append(argv, o)
	}
	return argv, nil
}

// RemoteShellOption makes rsync reach the target through tunnel.
func RemoteShellOption(tunnel string) string {
	return SSHExecutable + " -A " + tunnel + " " + SSHExecutable
}

func RemotePath(remote, path string) string {
	return remote + `:"` + path + `"`
}

func remoteShell(tunnel string) string {
	if tunnel == "" {
		return ""
	}
	return RemoteShellOption(tunnel)
}
