package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"niko/internal/app"
	"niko/internal/config"
	"niko/internal/index"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, err
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a NikoApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Serve", "Scan").
func newApp(ctx context.Context, operation string) (*app.NikoApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewNikoApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "niko",
	Short:        "Keep a queryable index of a directory tree",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init ROOT",
	Short: "Initialize configuration for the tree at ROOT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return err
		}

		root, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving root: %w", err)
		}

		cfg := config.NewConfig(root, paths.BaseDir)
		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Root:     %s\n", root)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		fmt.Println("Run `niko migrate` to create the index database.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return err
		}

		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		m := &config.Manager{}
		if err := m.Write(os.Stdout, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nConfiguration problems:\n%v\n", err)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the index database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Scan if stale, then keep the index in sync with filesystem changes",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "Serve")
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { a.Finish(err) }()

		return a.Serve(cmd.Context())
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reconcile the index with the directory tree",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), "Scan")
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { a.Finish(err) }()

		result, err := a.Scan(cmd.Context(), force)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		if result == nil {
			fmt.Println("Index is fresh; nothing scanned (use --force to rescan).")
			return nil
		}

		fmt.Printf("Scanned in %s: %d created, %d updated\n",
			result.Duration.Truncate(time.Millisecond), result.Created, result.Updated)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List indexed entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("size")
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.List(cmd.Context(), page, size, all)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No entries.")
			return nil
		}
		renderEntries(os.Stdout, entries, all)
		return nil
	},
}

// renderEntries prints entries as a borderless table.
func renderEntries(w io.Writer, entries []*index.Entry, withDeleted bool) {
	table := tablewriter.NewWriter(w)
	header := []string{"ID", "Type", "Mode", "Size", "Modified", "Path"}
	if withDeleted {
		header = append(header, "Deleted")
	}
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)

	for _, e := range entries {
		kind, size := "file", humanize.Bytes(uint64(e.Size))
		if e.IsDir {
			kind, size = "dir", "-"
		}
		row := []string{
			strconv.FormatInt(e.ID, 10),
			kind,
			os.FileMode(e.Permission & 0o777).String(),
			size,
			e.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Path(),
		}
		if withDeleted {
			deleted := ""
			if e.DeletedAt != nil {
				deleted = humanize.Time(*e.DeletedAt)
			}
			row = append(row, deleted)
		}
		table.Append(row)
	}
	table.Render()
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index size and scan freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Root:      %s\n", st.Root)
		fmt.Printf("Entries:   %s live\n", humanize.Comma(st.Live))
		switch {
		case st.Freshness.NeverWalked:
			fmt.Println("Last scan: never")
		case st.Freshness.Stale:
			fmt.Printf("Last scan: %s (stale, threshold %s)\n", humanize.Time(st.Freshness.LastScanAt), st.StaleAfter)
		default:
			fmt.Printf("Last scan: %s\n", humanize.Time(st.Freshness.LastScanAt))
		}
		switch st.SnapshotVersion {
		case -1:
		case 0:
			fmt.Println("Snapshot:  none published")
		default:
			fmt.Printf("Snapshot:  %s\n", humanize.Time(time.Unix(st.SnapshotVersion, 0)))
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.InitKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Snapshot.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Snapshot.Encryption.PrivateKeyPath)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Publish or fetch copies of the index database",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish the index as of the last scan",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "SnapshotPush")
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { a.Finish(err) }()

		version, err := a.PushSnapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("snapshot push failed: %w", err)
		}
		fmt.Printf("Snapshot version %d published\n", version)
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download and decrypt the latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		out, _ := cmd.Flags().GetString("out")

		a, err := newApp(cmd.Context(), "SnapshotPull")
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { a.Finish(err) }()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}

		version, err := a.PullSnapshot(cmd.Context(), pass, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
			return fmt.Errorf("snapshot pull failed: %w", err)
		}

		fmt.Printf("Snapshot version %d written to %s\n", version, out)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys and snapshot subcommands
	keysCmd.AddCommand(keysInitCmd)
	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
	snapshotPullCmd.Flags().StringP("out", "o", "index.db", "Where to write the decrypted database")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolP("force", "f", false, "Scan even if the index is fresh")
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().IntP("page", "p", 1, "Page number, starting at 1")
	lsCmd.Flags().IntP("size", "n", 50, "Entries per page")
	lsCmd.Flags().BoolP("all", "a", false, "Include deleted entries")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
}
