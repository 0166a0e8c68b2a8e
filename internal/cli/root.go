// Package cli implements the tfvc command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/util"
	"github.com/bolasblack/tfvc/internal/vcs"
)

var (
	// Version, Commit, and Date are set at build time via ldflags
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	configDir       string
	logLevel        string
	metricsTextfile string
}

// runner carries the environment and global flags to every command and
// builds the application on first use.
type runner struct {
	env  *util.Env
	opts globalOptions
	// transport replaces the SOAP transport when set (for testing).
	transport vcs.Transport
	app       *app
}

// NewRootCmd builds the command tree bound to env.
func NewRootCmd(env *util.Env) *cobra.Command {
	return newRootCmd(&runner{env: env})
}

func newRootCmd(r *runner) *cobra.Command {
	root := &cobra.Command{
		Use:   "tfvc",
		Short: "tfvc - Team Foundation version control from the terminal",
		Long: `tfvc talks to Team Foundation Server version control.

It keeps a per-computer registry of servers and workspaces, logs in on
demand, reports the status of local files against the server, and runs
checkout, lock, history, check-in validation and conflict resolution.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return r.close()
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("tfvc version %s\ncommit: %s\ndate: %s\n", Version, Commit, Date))
	root.SetOut(r.env.Out)
	root.SetErr(r.env.Err)
	root.SetIn(r.env.In)

	flags := root.PersistentFlags()
	flags.StringVar(&r.opts.configDir, "config-dir", "", "Directory holding config.toml and the workspace cache (default: user config dir)")
	flags.StringVar(&r.opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.StringVar(&r.opts.metricsTextfile, "metrics-textfile", "", "Write request metrics in Prometheus text format to this file on exit")

	root.AddCommand(r.newLoginCmd())
	root.AddCommand(r.newServerCmd())
	root.AddCommand(r.newWorkspaceCmd())
	root.AddCommand(r.newStatusCmd())
	root.AddCommand(r.newCheckoutCmd())
	root.AddCommand(r.newLockCmd(true))
	root.AddCommand(r.newLockCmd(false))
	root.AddCommand(r.newHistoryCmd())
	root.AddCommand(r.newCheckinValidateCmd())
	root.AddCommand(r.newResolveCmd())
	root.AddCommand(r.newConfigCmd())
	return root
}

// Execute runs the CLI against the process environment.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env := util.NewOsEnv()
	if err := NewRootCmd(env).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(env.Err, err)
		os.Exit(1)
	}
}

// GetRootCmd returns the root command for documentation generation.
func GetRootCmd() *cobra.Command {
	return NewRootCmd(util.NewOsEnv())
}
