package transporter

import (
	"context"
	"fmt"
)

// CheckSSHNoPassword reports whether target accepts a passwordless login,
// reached through tunnel when it is set.
func CheckSSHNoPassword(ctx context.Context, r Runner, target, tunnel string) (bool, error) {
	argv, err := SSHCommand(target, "exit")
	if err != nil {
		return false, err
	}

	if tunnel != "" {
		if argv, err = SSHCommand(tunnel, argv...); err != nil {
			return false, err
		}
	}

	code, err := Run(ctx, r, argv)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// CheckReport explains the result of a connection check to a user.
func CheckReport(ctx context.Context, r Runner, target, tunnel string) (string, bool, error) {
	ok, err := CheckSSHNoPassword(ctx, r, target, tunnel)
	if err != nil {
		return "", false, err
	}
	if ok {
		if tunnel == "" {
			return fmt.Sprintf("connection to '%s' established", target), true, nil
		}
		return fmt.Sprintf("connection to '%s' established via '%s'", target, tunnel), true, nil
	}

	if tunnel != "" {
		tunnelOK, err := CheckSSHNoPassword(ctx, r, tunnel, "")
		if err != nil {
			return "", false, err
		}
		if tunnelOK {
			return fmt.Sprintf(
				"SSH ERROR: Could not access the requested host '%s' without password via '%s'\n"+
					"SUGGESTED FIX: add your public ssh key from '%s' to your remote machine '%s'",
				target, tunnel, tunnel, target,
			), false, nil
		}
		target = tunnel
	}

	return fmt.Sprintf(
		"SSH ERROR: Could not access the requested host '%s' without password\n"+
			"SUGGESTED FIX: add your public ssh key to your remote machine '%s'",
		target, target,
	), false, nil
}
