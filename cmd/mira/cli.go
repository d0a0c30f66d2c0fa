package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/agent"
	"github.com/dotsetgreg/mirabase/pkg/bus"
	"github.com/dotsetgreg/mirabase/pkg/channels"
	"github.com/dotsetgreg/mirabase/pkg/config"
	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/profile"
	"github.com/dotsetgreg/mirabase/pkg/server"
)

const defaultUser = "local"

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var (
		opts        globalOptions
		showVersion bool
	)

	root := &cobra.Command{
		Use:   appName,
		Short: "Deterministic Czech dialogue runtime with gated actions",
		Long: strings.TrimSpace(`mira answers short Czech utterances with rule-based decisions.

Every reply is backed by a decision contract. State-changing commands pass
an authorization gate and are recorded in the execution log.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default $MIRA_CONFIG or ~/.mira/config.json)")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newChatCommand(&opts))
	root.AddCommand(newSayCommand(&opts))
	root.AddCommand(newActionCommand(&opts))
	root.AddCommand(newServeCommand(&opts))
	root.AddCommand(newGatewayCommand(&opts))
	root.AddCommand(newSTMCommand(&opts))
	root.AddCommand(newOnboardCommand(&opts))
	root.AddCommand(newVersionCommand())
	root.AddCommand(newDocsCommand(buildRootCommand))
	return root
}

func newSayCommand(opts *globalOptions) *cobra.Command {
	var (
		message string
		user    string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "say",
		Short: "Answer a single utterance",
		Example: strings.Join([]string{
			"  mira say -m \"Kolik je 10*4?\"",
			"  mira say --user eva -m \"Kolik je hodin?\" --json",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}
			rt, err := opts.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.ProcessTurn(cmd.Context(), user, message, action.RequestContext{Channel: "cli"})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if res.Reply != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Utterance to answer")
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser, "User id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the reply, decision and contract as JSON")
	return cmd
}

func newActionCommand(opts *globalOptions) *cobra.Command {
	var (
		user      string
		requestID string
		traceID   string
	)

	cmd := &cobra.Command{
		Use:   "action <command | json>",
		Short: "Dispatch a gated action",
		Long:  "Run a slash command or an {\"action_type\": ..., \"params\": ...} object through the authorization gate and print the outcome.",
		Args:  cobra.ExactArgs(1),
		Example: strings.Join([]string{
			"  mira action --user eva \"/set verbosity 3\"",
			"  mira action --user eva --request-id r-1 '{\"action_type\":\"noop\"}'",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			input := strings.TrimSpace(args[0])
			var a action.Action
			if strings.HasPrefix(input, "{") {
				a, err = action.ParseJSON([]byte(input))
			} else {
				a, err = action.Parse(input)
			}

			var out action.Outcome
			var pe *action.ParseError
			switch {
			case errors.As(err, &pe):
				out = pe.Outcome()
			case err != nil:
				return err
			default:
				out = rt.Dispatch(cmd.Context(), a, user, action.RequestContext{
					RequestID: requestID,
					TraceID:   traceID,
					Channel:   "cli",
				})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser, "User id")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Idempotency key; a repeated id replays the stored outcome")
	cmd.Flags().StringVar(&traceID, "trace-id", "", "Trace id recorded with the request")
	return cmd
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Serve the HTTP API",
		Long:    "Serve /v1/turn, /v1/action, /user/preference, /v1/users/:id/stm, /health and /ready on gateway.host:gateway.port.",
		Example: "  mira serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := rt.Config()
			addr := server.Addr(cfg.Gateway.Host, cfg.Gateway.Port)
			fmt.Fprintf(cmd.OutOrStdout(), "✓ API listening on http://%s\n", addr)
			return server.New(rt).ListenAndServe(ctx, addr)
		},
	}
}

func newGatewayCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway and the HTTP API",
		Long:    "Start the enabled channel adapters, the turn loop and the HTTP API together.",
		Example: "  mira gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			msgBus := bus.NewMessageBus(bus.DefaultCapacity)
			defer msgBus.Close()

			manager, err := channels.NewManager(rt.Config(), msgBus)
			if err != nil {
				return fmt.Errorf("create channel manager: %w", err)
			}
			enabled := manager.EnabledChannels()
			if len(enabled) == 0 {
				return fmt.Errorf("no channels enabled; set channels.discord.enabled and channels.discord.token")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := manager.StartAll(ctx); err != nil {
				return fmt.Errorf("start channels: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Channels enabled: %s\n", strings.Join(enabled, ", "))

			cfg := rt.Config()
			addr := server.Addr(cfg.Gateway.Host, cfg.Gateway.Port)
			apiErr := make(chan error, 1)
			go func() { apiErr <- server.New(rt).ListenAndServe(ctx, addr) }()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ API listening on http://%s\n", addr)
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

			loopErr := make(chan error, 1)
			go func() { loopErr <- rt.Run(ctx, msgBus) }()

			apiDone := false
			select {
			case <-ctx.Done():
			case err = <-apiErr:
				apiDone = true
				stop()
			}

			fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
			if stopErr := manager.StopAll(context.Background()); stopErr != nil {
				logger.ErrorCF("gateway", "Failed to stop channels", map[string]interface{}{"error": stopErr.Error()})
			}
			<-loopErr
			if !apiDone {
				err = <-apiErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Gateway stopped")
			return err
		},
	}
}

func newSTMCommand(opts *globalOptions) *cobra.Command {
	stm := &cobra.Command{
		Use:   "stm",
		Short: "Manage short-term memory",
	}

	var user string
	clearCmd := &cobra.Command{
		Use:     "clear",
		Short:   "Drop the short-term memory window of a user",
		Example: "  mira stm clear --user eva",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.ClearShortTerm(cmd.Context(), user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Short-term memory cleared for %s\n", user)
			return nil
		},
	}
	clearCmd.Flags().StringVarP(&user, "user", "u", defaultUser, "User id")
	stm.AddCommand(clearCmd)
	return stm
}

func newOnboardCommand(opts *globalOptions) *cobra.Command {
	var (
		user  string
		force bool
	)

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config and a sample user profile",
		Example: "  mira onboard --user eva",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := opts.path()
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(out, "Config already exists at %s (use --force to overwrite)\n", path)
			} else if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("save config: %w", err)
			} else {
				fmt.Fprintf(out, "✓ Config written to %s\n", path)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := writeSampleProfile(cmd.Context(), cfg, user); err != nil {
				return err
			}

			fmt.Fprintf(out, "%s is ready!\n", appName)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. Chat locally: mira chat --user %s\n", user)
			fmt.Fprintln(out, "  2. (Gateway mode) Set channels.discord.enabled and channels.discord.token")
			fmt.Fprintln(out, "  3. Serve the API: mira serve")
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser, "User id of the sample profile")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")
	return cmd
}

// writeSampleProfile provisions a profile allowed to run the built-in
// actions. An existing profile is left alone.
func writeSampleProfile(ctx context.Context, cfg *config.Config, userID string) error {
	store := profile.NewFileStore(agent.UsersDir(cfg))
	if store.Exists(userID) {
		return nil
	}
	p := profile.Profile{
		"user_id":  userID,
		"identity": map[string]interface{}{"status": "active", "display_name": userID},
		"access": map[string]interface{}{
			"allowed_actions": []interface{}{"noop", "get_profile", "set_preference"},
			"denied_actions":  []interface{}{},
			"daily_limit":     100,
		},
		"preferences": map[string]interface{}{
			"communication_style": "casual",
			"response_language":   "cs",
			"verbosity":           2,
		},
	}
	if err := store.SaveAtomic(ctx, userID, p); err != nil {
		return fmt.Errorf("write sample profile: %w", err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  mira version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
