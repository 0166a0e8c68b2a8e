package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/bolasblack/tfvc/internal/config"
	"github.com/bolasblack/tfvc/internal/tfspath"
	"github.com/bolasblack/tfvc/internal/util"
)

// settings are the boolean flags of the configuration store.
var settings = map[string]func(s *config.Store, v bool){
	"use-http-proxy":                        (*config.Store).SetUseHTTPProxy,
	"support-tfs-checkin-policies":          (*config.Store).SetSupportTfsCheckinPolicies,
	"support-stateful-checkin-policies":     (*config.Store).SetSupportStatefulCheckinPolicies,
	"report-not-installed-checkin-policies": (*config.Store).SetReportNotInstalledCheckinPolicies,
}

func settingNames() []string {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *runner) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				doc := a.store.State()
				for uri, sc := range doc.Servers {
					if sc.Credentials != nil && sc.Credentials.Password != "" {
						creds := *sc.Credentials
						creds.Password = "<sealed>"
						sc.Credentials = &creds
						doc.Servers[uri] = sc
					}
				}
				data, err := toml.Marshal(doc)
				if err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <true|false>",
		Short: "Change a configuration flag",
		Long:  fmt.Sprintf("Change a configuration flag. Known flags: %v.", settingNames()),
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return settingNames(), cobra.ShellCompDirectiveNoFileComp
			}
			return []string{"true", "false"}, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			set, ok := settings[args[0]]
			if !ok {
				return fmt.Errorf("unknown flag %q: want one of %v", args[0], settingNames())
			}
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q for %s: %w", args[1], args[0], err)
			}
			return r.run(cmd, func(ctx context.Context, a *app) error {
				set(a.store, v)
				util.ProgressDone(cmd.OutOrStdout(), "%s = %t\n", args[0], v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "proxy <server-url> [proxy-url]",
		Short: "Set or clear the download proxy of a server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				uri := tfspath.CanonicalizeURI(args[0])
				proxy := ""
				if len(args) == 2 {
					proxy = args[1]
				}
				a.store.SetProxyURI(uri, proxy)
				if proxy == "" {
					util.ProgressDone(cmd.OutOrStdout(), "Cleared the proxy of %s\n", uri)
				} else {
					util.ProgressDone(cmd.OutOrStdout(), "Proxy of %s: %s\n", uri, proxy)
				}
				return nil
			})
		},
	})

	var (
		proxy    config.HTTPProxy
		disable  bool
		password string
	)
	httpProxy := &cobra.Command{
		Use:   "http-proxy",
		Short: "Configure the HTTP proxy used for every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				current := a.store.HTTPProxy()
				flags := cmd.Flags()
				if flags.Changed("host") {
					current.Host = proxy.Host
				}
				if flags.Changed("port") {
					current.Port = proxy.Port
				}
				if flags.Changed("user") {
					current.User = proxy.User
					current.Authentication = proxy.User != ""
				}
				if flags.Changed("keep-password") {
					current.KeepPassword = proxy.KeepPassword
				}
				current.Enabled = !disable && current.Host != ""
				a.store.SetHTTPProxy(current)
				if flags.Changed("password") {
					a.store.SetProxyPassword(password)
				}
				out := cmd.OutOrStdout()
				if !current.Enabled {
					util.ProgressDone(out, "HTTP proxy disabled\n")
					return nil
				}
				util.ProgressDone(out, "HTTP proxy %s:%d\n", current.Host, current.Port)
				return nil
			})
		},
	}
	httpProxy.Flags().StringVar(&proxy.Host, "host", "", "Proxy host")
	httpProxy.Flags().IntVar(&proxy.Port, "port", 8080, "Proxy port")
	httpProxy.Flags().StringVar(&proxy.User, "user", "", "Proxy user, enables proxy authentication")
	httpProxy.Flags().StringVar(&password, "password", "", "Proxy password for this session")
	httpProxy.Flags().BoolVar(&proxy.KeepPassword, "keep-password", false, "Keep the proxy password between sessions")
	httpProxy.Flags().BoolVar(&disable, "disable", false, "Stop routing requests through the proxy")
	cmd.AddCommand(httpProxy)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset-passwords",
		Short: "Forget every stored password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, func(ctx context.Context, a *app) error {
				a.store.ResetStoredPasswords()
				util.ProgressDone(cmd.OutOrStdout(), "Stored passwords removed\n")
				return nil
			})
		},
	})
	return cmd
}
