package cli

import (
	"context"
	"log/slog"

	"github.com/denismitr/pado/internal/buildinfo"
	"github.com/denismitr/pado/transporter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const transporterBanner = `#### PADO.TRANSPORTER ####
copy whole slide image files between hosts with rsync over ssh
#### [PA]thological [D]ata [O]bsession ####`

type hosts struct {
	target string
	tunnel string
}

// NewTransporterCommand builds the pado-transporter command tree.
func NewTransporterCommand(env *Env) *cobra.Command {
	var (
		version bool
		verbose bool
		h       hosts
	)

	root := &cobra.Command{
		Use:   "pado-transporter",
		Short: "pado transporter",
		Long:  transporterBanner,
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			logger, err := newLogger(level, "text", env.Stderr)
			if err != nil {
				return err
			}
			withLogger(cmd, logger)

			if cmd.Name() == "config" || cmd == cmd.Root() {
				return nil
			}
			return h.resolve(env)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if version {
				env.println(buildinfo.Version)
				return nil
			}
			return cmd.Help()
		},
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)

	root.Flags().BoolVar(&version, "version", false, "print version")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print more info")
	root.PersistentFlags().StringVar(&h.target, "target", "", "target `remote`")
	root.PersistentFlags().StringVar(&h.tunnel, "tunnel", "", "tunnel `remote`")

	root.AddCommand(
		newLsCommand(env, &h),
		newCheckCommand(env, &h),
		newTransferCommand(env, &h, "pull", transporter.Pull),
		newTransferCommand(env, &h, "push", transporter.Push),
		newConfigCommand(env, &h),
	)
	return root
}

// resolve falls back to the configured hosts when --target is missing.
func (h *hosts) resolve(env *Env) error {
	if h.target != "" {
		return nil
	}

	path, err := env.configFile()
	if err != nil {
		return err
	}
	cfg, err := transporter.LoadConfig(env.configFs(), path)
	if errors.Is(err, transporter.ErrNoConfig) {
		return &ExitError{Code: 1, Message: "ERROR: " + transporter.ErrNoConfig.Error()}
	} else if err != nil {
		return err
	}

	h.target, h.tunnel = cfg.TargetHost, cfg.TunnelHost
	return nil
}

func newLsCommand(env *Env, h *hosts) *cobra.Command {
	var opts transporter.ListOptions
	cmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "list files on remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Target, opts.Tunnel = h.target, h.tunnel
			files, err := transporter.ListFiles(cmd.Context(), env.runner(), args[0], opts)
			if err != nil {
				return err
			}
			for _, f := range files {
				env.println(f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "recurse subdirectories")
	cmd.Flags().BoolVarP(&opts.Long, "long", "l", false, "list details")
	cmd.Flags().StringVar(&opts.Match, "match", "", "match regex")
	return cmd
}

func newCheckCommand(env *Env, h *hosts) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "check passwordless ssh access to the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, ok, err := transporter.CheckReport(cmd.Context(), env.runner(), h.target, h.tunnel)
			if err != nil {
				return err
			}
			if !ok {
				return &ExitError{Code: 1, Message: msg}
			}
			env.println(msg)
			return nil
		},
	}
}

type transferFunc func(ctx context.Context, r transporter.Runner, src, dst string, opts transporter.TransferOptions) error

func newTransferCommand(env *Env, h *hosts, name string, fn transferFunc) *cobra.Command {
	short := "copy remote src to local dst"
	if name == "push" {
		short = "copy local src to remote dst"
	}

	var quiet bool
	cmd := &cobra.Command{
		Use:   name + " <src> <dst>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := transporter.TransferOptions{Target: h.target, Tunnel: h.tunnel}
			if !quiet {
				opts.Progress = env.Stdout
			}
			return fn(cmd.Context(), env.runner(), args[0], args[1], opts)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "don't print rsync output")
	return cmd
}

// newConfigCommand writes --target and --tunnel as defaults, without
// --target it prints the current defaults.
func newConfigCommand(env *Env, h *hosts) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "store default target and tunnel hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := env.configFile()
			if err != nil {
				return err
			}

			if h.target == "" {
				current, err := transporter.LoadConfig(env.configFs(), path)
				if errors.Is(err, transporter.ErrNoConfig) {
					return &ExitError{Code: 2, Message: "ERROR: provide --target to configure"}
				} else if err != nil {
					return err
				}
				env.printf("target_host = %q\n", current.TargetHost)
				if current.TunnelHost != "" {
					env.printf("tunnel_host = %q\n", current.TunnelHost)
				}
				return nil
			}

			cfg := transporter.Config{TargetHost: h.target, TunnelHost: h.tunnel}
			if err := transporter.SaveConfig(env.configFs(), path, cfg); err != nil {
				return err
			}
			env.printf("config written to %s\n", path)
			return nil
		},
	}
}
