package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/notify"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/util"
	"github.com/bolasblack/tfvc/internal/versioncontrol"
)

func (r *runner) newLoginCmd() *cobra.Command {
	var user, password string
	noSave := false
	cmd := &cobra.Command{
		Use:   "login [url]",
		Short: "Log in to a server and register it on this computer",
		Long: `Log in to a Team Foundation Server and add it to the registry of known servers.

Without a URL the login dialog asks for the server address. With --user
the credentials are used as given and no dialog is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				var uri, guid string
				if len(args) == 1 {
					uri = tfspath.CanonicalizeURI(args[0])
					if user != "" {
						a.store.StoreCredentials(uri, parseCredentials(user, password, !noSave))
					}
					desc, err := versioncontrol.New(a.registry, a.transport, uri).EnsureAuthenticated(ctx, true)
					if err != nil {
						return err
					}
					guid = desc.InstanceID
				} else {
					session, err := versioncontrol.AddServer(ctx, a.registry, a.transport)
					if err != nil {
						return err
					}
					uri, guid = session.ServerURI, session.Descriptor.InstanceID
				}

				if existing := a.workstation.ServerByInstanceID(guid); existing != nil && !strings.EqualFold(existing.URI(), uri) {
					return fmt.Errorf("%s is the same server as %s, which is already registered", uri, existing.URI())
				}
				s := a.workstation.AddServer(uri, guid)
				if err := s.RefreshWorkspacesForCurrentOwner(ctx); err != nil {
					return fmt.Errorf("failed to load workspaces: %w", err)
				}

				out := cmd.OutOrStdout()
				util.ProgressDone(out, "Logged in to %s as %s\n", s.URI(), s.QualifiedUsername())
				_, _ = fmt.Fprintf(out, "Workspaces on this computer: %d\n", len(s.WorkspacesForCurrentOwnerAndComputer()))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", `User name, DOMAIN\user for Windows authentication`)
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password used with --user")
	cmd.Flags().BoolVar(&noSave, "no-save-password", false, "Keep the password for this session only")
	return cmd
}

func (r *runner) newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the servers known on this computer",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				servers := a.workstation.Servers()
				out := cmd.OutOrStdout()
				if len(servers) == 0 {
					_, _ = fmt.Fprintln(out, "No servers registered. Run 'tfvc login' to add one.")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "URI\tINSTANCE ID\tUSER\tWORKSPACES\tSTATE")
				for _, s := range servers {
					user := s.QualifiedUsername()
					state := "ok"
					switch {
					case a.store.IsAuthCanceled(s.URI()):
						state = "login cancelled"
					case user == "":
						state = "not logged in"
						user = "-"
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						s.URI(), s.GUID(), user, len(s.WorkspacesForCurrentOwnerAndComputer()), state)
				}
				_ = w.Flush()

				notify.RenderBanner(a.center.Active(), cmd.ErrOrStderr())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <url>",
		Short: "Forget a server along with its credentials and cached workspaces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				s, err := a.server(args[0])
				if err != nil {
					return err
				}
				a.workstation.RemoveServer(s)
				util.ProgressDone(cmd.OutOrStdout(), "Removed %s\n", s.URI())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <url>",
		Short: "Log in again to a server whose login was cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				uri := tfspath.CanonicalizeURI(args[0])
				var err error
				if n := a.center.Find(uri); n != nil {
					err = n.Retry(ctx)
				} else {
					err = a.relogin(ctx, uri)
				}
				if err != nil {
					return err
				}
				util.ProgressDone(cmd.OutOrStdout(), "Logged in to %s\n", uri)
				return nil
			})
		},
	})
	return cmd
}
