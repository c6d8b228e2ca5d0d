package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"distribox/internal/app"
	"distribox/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	configPath, err := app.GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on stderr and reads a passphrase without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

var rootCmd = &cobra.Command{
	Use:   "distribox",
	Short: "Peer-to-peer file synchronizer",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init SYNC_ROOT",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := app.GetConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}

		root, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving sync root: %w", err)
		}

		peerID := uuid.New().String()
		cfg := config.NewConfig(peerID, root)

		if err := config.Init(configPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", configPath)
		fmt.Printf("Peer ID:   %s\n", peerID)
		fmt.Printf("Sync Root: %s\n", root)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := app.GetConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}

		cfg, err := config.ReadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", configPath)
		fmt.Printf("Peer ID:     %s\n", cfg.PeerID)
		fmt.Printf("Sync Root:   %s\n", cfg.SyncRoot)
		fmt.Printf("Listen Addr: %s\n", cfg.ListenAddr)
		fmt.Printf("Pool:        %s\n", cfg.Pool.Type)
		fmt.Printf("Journal:     %s\n", cfg.Journal.Type)
		for _, p := range cfg.Peers {
			fmt.Printf("Peer:        %s (%s)\n", p.Name, p.Addr)
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the sync root and serve peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Sealer().IsConfigured() {
			pw, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			if err := a.UnlockSealing(pw); err != nil {
				return fmt.Errorf("unlocking key pair: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.Watch(ctx)
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync PEER",
	Short: "Push local changes to a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Sync(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("Synced with %s\n", args[0])
		return nil
	},
}

// bundle command
var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Build and accept bundles manually",
}

var bundleBuildCmd = &cobra.Command{
	Use:   "build OUTPUT",
	Short: "Build a full bundle into OUTPUT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		archive, err := a.BuildBundle(nil)
		if err != nil {
			return fmt.Errorf("building bundle: %w", err)
		}
		if archive == "" {
			fmt.Println("Nothing to bundle.")
			return nil
		}
		defer os.Remove(archive)

		if err := os.Rename(archive, args[0]); err != nil {
			return fmt.Errorf("moving bundle to %s: %w", args[0], err)
		}
		fmt.Printf("Bundle written to %s\n", args[0])
		return nil
	},
}

var bundleAcceptCmd = &cobra.Command{
	Use:   "accept FILE",
	Short: "Accept a bundle file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening bundle: %w", err)
		}
		defer f.Close()

		stats, err := a.AcceptBundle(f, "")
		if err != nil {
			return fmt.Errorf("accepting bundle: %w", err)
		}
		fmt.Printf("Accepted %d event(s) across %d file(s), %d blob(s)\n",
			stats.Events, stats.Histories, stats.Blobs)
		return nil
	},
	Args: cobra.ExactArgs(1),
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List synchronized files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		histories := a.Status()
		if len(histories) == 0 {
			fmt.Println("No files tracked.")
			return nil
		}

		for _, h := range histories {
			kind := "f"
			if h.IsDirectory() {
				kind = "d"
			}
			digest := h.CurrentSHA1()
			if digest == "" {
				digest = "-"
			} else {
				digest = digest[:12]
			}
			fmt.Printf("%s  %-12s  %8d  %s\n", kind, digest, h.CurrentSize(), h.CurrentName())
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log NAME",
	Short: "View a file's event history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.FileHistory(args[0])
		if err != nil {
			return err
		}

		for _, e := range h.Events {
			digest := "-"
			if e.SHA1 != "" {
				digest = e.SHA1[:12]
			}
			fmt.Printf("%-7s  %s  %-12s  %s\n",
				e.Type,
				e.When.Time().Format("2006-01-02 15:04:05"),
				digest,
				e.Name,
			)
		}
		return nil
	},
}

// journal command
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "View synchronization activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.JournalRecent(limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No activity recorded.")
			return nil
		}

		for _, e := range entries {
			peer := e.Peer
			if peer == "" {
				peer = "-"
			}
			fmt.Printf("#%d  %-14s  %-10s  events:%-4d  blobs:%-4d  %s  %s\n",
				e.ID,
				e.Operation,
				peer,
				e.Events,
				e.Blobs,
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.Outcome,
			)
		}
		return nil
	},
}

// seal command
var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Manage the bundle sealing key pair",
}

var sealInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Sealer().IsConfigured() {
			return fmt.Errorf("key pair already exists")
		}

		pw, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pw != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.Sealer().Setup(pw); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		recipient, err := a.Sealer().Recipient()
		if err != nil {
			return err
		}
		fmt.Printf("Key pair generated. Share this recipient with peers:\n%s\n", recipient)
		return nil
	},
}

var sealRecipientCmd = &cobra.Command{
	Use:   "recipient",
	Short: "Print this peer's public recipient",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		recipient, err := a.Sealer().Recipient()
		if err != nil {
			return err
		}
		fmt.Println(recipient)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	bundleCmd.AddCommand(bundleBuildCmd)
	bundleCmd.AddCommand(bundleAcceptCmd)

	sealCmd.AddCommand(sealInitCmd)
	sealCmd.AddCommand(sealRecipientCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	rootCmd.AddCommand(sealCmd)
}
