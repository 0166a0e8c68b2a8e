package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/util"
	"github.com/bolasblack/tfvc/internal/workspace"
)

// folderFlags are the working-folder edits shared by create and edit.
type folderFlags struct {
	maps   []string
	cloaks []string
	unmaps []string
}

func (f *folderFlags) register(cmd *cobra.Command, withUnmap bool) {
	cmd.Flags().StringArrayVar(&f.maps, "map", nil, "Map a server folder to a local folder (server=local, repeatable)")
	cmd.Flags().StringArrayVar(&f.cloaks, "cloak", nil, "Cloak a server folder below a mapping (repeatable)")
	if withUnmap {
		cmd.Flags().StringArrayVar(&f.unmaps, "unmap", nil, "Remove the working folder of a server folder (repeatable)")
	}
}

// apply returns folders with the flags' changes. Mappings are applied
// before cloaks so a cloak may refer to a folder mapped in the same call.
func (f *folderFlags) apply(folders []workspace.WorkingFolder) ([]workspace.WorkingFolder, error) {
	result := append([]workspace.WorkingFolder(nil), folders...)
	for _, server := range f.unmaps {
		kept := result[:0]
		for _, wf := range result {
			if !tfspath.Server.Equal(wf.ServerPath, server) {
				kept = append(kept, wf)
			}
		}
		result = kept
	}
	for _, m := range f.maps {
		wf, err := parseMapping(m)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	for _, server := range f.cloaks {
		wf, err := cloakFolder(result, server)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	return result, nil
}

// parseMapping parses "server=local" into an active working folder.
func parseMapping(s string) (workspace.WorkingFolder, error) {
	server, local, ok := strings.Cut(s, "=")
	server, local = strings.TrimSpace(server), strings.TrimSpace(local)
	if !ok || server == "" || local == "" {
		return workspace.WorkingFolder{}, fmt.Errorf("invalid mapping %q: want server=local", s)
	}
	if !tfspath.IsServerPath(server) {
		return workspace.WorkingFolder{}, fmt.Errorf("invalid mapping %q: %s is not a server path", s, server)
	}
	abs, err := filepath.Abs(local)
	if err != nil {
		return workspace.WorkingFolder{}, fmt.Errorf("invalid mapping %q: %w", s, err)
	}
	return workspace.WorkingFolder{ServerPath: server, LocalPath: abs, Status: workspace.Active}, nil
}

// cloakFolder cloaks server below the nearest active mapping covering it.
func cloakFolder(folders []workspace.WorkingFolder, server string) (workspace.WorkingFolder, error) {
	var (
		best  workspace.WorkingFolder
		local tfspath.FilePath
		found bool
	)
	for _, f := range folders {
		if f.Status != workspace.Active {
			continue
		}
		p, ok := f.LocalPathByServerPath(server, true)
		if ok && (!found || len(f.ServerPath) > len(best.ServerPath)) {
			best, local, found = f, p, true
		}
	}
	if !found {
		return workspace.WorkingFolder{}, fmt.Errorf("cannot cloak %s: no mapping covers it", server)
	}
	return workspace.WorkingFolder{ServerPath: server, LocalPath: local.Path, Status: workspace.Cloaked}, nil
}

func (r *runner) newWorkspaceCmd() *cobra.Command {
	var serverURI string
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage the workspaces of the current user on this computer",
	}
	cmd.PersistentFlags().StringVar(&serverURI, "server", "", "Server URI (default: the only known server)")

	var refresh bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				servers := a.workstation.Servers()
				if serverURI != "" {
					s, err := a.server(serverURI)
					if err != nil {
						return err
					}
					servers = []*workspace.Server{s}
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "NAME\tSERVER\tOWNER\tCOMPUTER\tCOMMENT")
				for _, s := range servers {
					if refresh {
						if err := s.RefreshWorkspacesForCurrentOwner(ctx); err != nil {
							return fmt.Errorf("failed to refresh %s: %w", s.URI(), err)
						}
					}
					for _, ws := range s.WorkspacesForCurrentOwnerAndComputer() {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
							ws.Name(), s.URI(), ws.OwnerName(), ws.Computer(), ws.Comment())
					}
				}
				return w.Flush()
			})
		},
	}
	list.Flags().BoolVar(&refresh, "refresh", false, "Reload the workspace list from the servers")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show a workspace and its working folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				ws, err := a.findWorkspace(args[0], serverURI)
				if err != nil {
					return err
				}
				if err := ws.LoadFromServer(ctx, true); err != nil {
					return err
				}
				printWorkspace(cmd.OutOrStdout(), ws)
				return nil
			})
		},
	})

	var (
		comment     string
		local       bool
		createFlags folderFlags
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !workspace.IsValidName(name) {
				return fmt.Errorf("invalid workspace name %q", name)
			}
			return r.run(cmd, func(ctx context.Context, a *app) error {
				s, err := a.server(serverURI)
				if err != nil {
					return err
				}
				if s.QualifiedUsername() == "" {
					if _, err := s.VCS().EnsureAuthenticated(ctx, false); err != nil {
						return err
					}
				}
				ws := workspace.NewWorkspace(s, s.QualifiedUsername(), a.workstation.ComputerName())
				ed, err := ws.Edit()
				if err != nil {
					return err
				}
				folders, err := createFlags.apply(nil)
				if err != nil {
					return err
				}
				ed.SetName(name)
				ed.SetComment(comment)
				if local {
					ed.SetLocation(workspace.LocationLocal)
				}
				ed.SetWorkingFolders(folders)
				if err := ed.Save(ctx, nil); err != nil {
					return err
				}
				util.ProgressDone(cmd.OutOrStdout(), "Created workspace %s on %s\n", ws.Name(), s.URI())
				return nil
			})
		},
	}
	create.Flags().StringVar(&comment, "comment", "", "Workspace comment")
	create.Flags().BoolVar(&local, "local", false, "Keep pending changes in a local workspace")
	createFlags.register(create, false)
	cmd.AddCommand(create)

	var (
		newName   string
		newComm   string
		editFlags folderFlags
	)
	edit := &cobra.Command{
		Use:   "edit <name>",
		Short: "Rename a workspace or change its comment and working folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				original, err := a.findWorkspace(args[0], serverURI)
				if err != nil {
					return err
				}
				if err := original.LoadFromServer(ctx, false); err != nil {
					return err
				}
				ws := original.Copy()
				ed, err := ws.Edit()
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("name") {
					if !workspace.IsValidName(newName) {
						return fmt.Errorf("invalid workspace name %q", newName)
					}
					ed.SetName(newName)
				}
				if cmd.Flags().Changed("comment") {
					ed.SetComment(newComm)
				}
				folders, err := editFlags.apply(ws.WorkingFoldersCached())
				if err != nil {
					return err
				}
				ed.SetWorkingFolders(folders)
				if err := ed.Save(ctx, original); err != nil {
					return err
				}
				util.ProgressDone(cmd.OutOrStdout(), "Saved workspace %s\n", ws.Name())
				return nil
			})
		},
	}
	edit.Flags().StringVar(&newName, "name", "", "New workspace name")
	edit.Flags().StringVar(&newComm, "comment", "", "New workspace comment")
	editFlags.register(edit, true)
	cmd.AddCommand(edit)

	var yes bool
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a workspace on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				ws, err := a.findWorkspace(args[0], serverURI)
				if err != nil {
					return err
				}
				if !yes {
					ok, err := a.prompter.Confirm(ctx, fmt.Sprintf("Delete workspace %s?", ws.Name()),
						"Pending changes of the workspace are lost.")
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("not deleting %s: pass --yes to confirm", ws.Name())
					}
				}
				if err := ws.Server().DeleteWorkspace(ctx, ws); err != nil {
					return err
				}
				util.ProgressDone(cmd.OutOrStdout(), "Deleted workspace %s\n", ws.Name())
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.AddCommand(del)
	return cmd
}

func printWorkspace(out io.Writer, ws *workspace.Workspace) {
	location := "server"
	if ws.IsLocal() {
		location = "local"
	}
	_, _ = fmt.Fprintf(out, "Workspace: %s\n", ws.Name())
	_, _ = fmt.Fprintf(out, "Server:    %s\n", ws.Server().URI())
	_, _ = fmt.Fprintf(out, "Owner:     %s\n", ws.OwnerName())
	_, _ = fmt.Fprintf(out, "Computer:  %s\n", ws.Computer())
	_, _ = fmt.Fprintf(out, "Location:  %s\n", location)
	if c := ws.Comment(); c != "" {
		_, _ = fmt.Fprintf(out, "Comment:   %s\n", c)
	}
	_, _ = fmt.Fprintln(out, "Working folders:")
	for _, f := range ws.WorkingFoldersCached() {
		if f.Status == workspace.Cloaked {
			_, _ = fmt.Fprintf(out, "  (cloaked) %s\n", f.ServerPath)
			continue
		}
		_, _ = fmt.Fprintf(out, "  %s: %s\n", f.ServerPath, f.LocalPath)
	}
}
