package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ravelhq/inboxd/internal/config"
	"github.com/ravelhq/inboxd/internal/identity"
	"github.com/ravelhq/inboxd/internal/store"
	"github.com/ravelhq/inboxd/internal/workspace"
)

var workspaceFlag string

func main() {
	root := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Inspect and maintain an inboxd workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "workspace name (overrides config default)")

	root.AddCommand(cacheCmd(), conversationsCmd(), configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func activeWorkspace() (string, error) {
	name := workspace.Resolve(workspaceFlag)
	if err := workspace.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func openStore() (string, *store.DB, error) {
	name, err := activeWorkspace()
	if err != nil {
		return "", nil, err
	}
	db, err := store.Open(workspace.CacheDBPath(name))
	if err != nil {
		return "", nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return "", nil, err
	}
	return name, db, nil
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the address-to-phone cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <address>",
		Short: "Look up the cached phone digits for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			digits, err := db.GetPhone(name, args[0])
			if err != nil {
				return err
			}
			if digits == "" {
				return fmt.Errorf("no cache entry for %s", args[0])
			}
			fmt.Println(digits)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <address> <digits>",
		Short: "Seed a cache entry manually",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if !identity.ValidPhone(args[1]) {
				return fmt.Errorf("%q is not a plausible phone number", args[1])
			}
			name, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.PutPhone(name, args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of cached mappings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			name, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := db.PhoneMapCount(name)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	})

	return cmd
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "Dump the persisted conversation snapshot",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			name, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()
			convs, err := db.ListConversations(name)
			if err != nil {
				return err
			}
			for _, c := range convs {
				label := c.Name
				if label == "" {
					label = "(unnamed)"
				}
				fmt.Printf("%-40s %-24s unread=%d last=%d\n", c.Key, label, c.Unread, c.LastActivity)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write the global configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(workspace.ConfigPath())
			if err != nil {
				cfg = &config.Config{Engine: config.Defaults()}
			}
			fmt.Printf("default_workspace = %q\n", cfg.DefaultWorkspace)
			e := cfg.Engine
			fmt.Printf("poll_interval_secs = %d\n", e.PollIntervalSecs)
			fmt.Printf("pending_ttl_mins = %d\n", e.PendingTTLMins)
			fmt.Printf("shadow_window_secs = %d\n", e.ShadowWindowSecs)
			fmt.Printf("min_phone_digits = %d\n", e.MinPhoneDigits)
			fmt.Printf("history_page_size = %d\n", e.HistoryPageSize)
			fmt.Printf("channel = %q\n", e.Channel)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-workspace <name>",
		Short: "Set the default workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := workspace.ValidateName(args[0]); err != nil {
				return err
			}
			path := workspace.ConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				cfg = &config.Config{Engine: config.Defaults()}
			}
			cfg.DefaultWorkspace = args[0]
			return config.Save(path, cfg)
		},
	})

	return cmd
}
