package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aperture/internal/aperture"
	"aperture/internal/app"
	"aperture/internal/config"
	"aperture/internal/svc"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag, or the default config location.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	defaults, err := app.GetDefaults()
	if err != nil {
		return "", fmt.Errorf("getting defaults: %w", err)
	}
	return defaults["config_path"], nil
}

func readConfig() (*config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// runServer serves until ctx is cancelled. It backs both "serve" and the
// system service.
func runServer(ctx context.Context, path string) error {
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer a.Close()

	return a.Serve(ctx)
}

func readPassphrase(prompt string) (aperture.Secret, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("passphrase must not be empty")
	}
	return aperture.Secret(b), nil
}

func serviceConfig(cmd *cobra.Command) (*svc.ServiceConfig, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg := svc.DefaultServiceConfig(path)
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		cfg.UserName = user
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:          "aperture",
	Short:        "File sync server for paired devices",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}

		serverID := uuid.New().String()
		cfg := config.NewConfig(serverID, defaults["base_dir"])

		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Server ID: %s\n", serverID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Server ID: %s\n", cfg.ServerID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Listen:    %s\n", cfg.Server.Listen)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Storage:   %s\n", cfg.Storage.Type)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		return runServer(ctx, path)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := a.Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No paired devices.")
			return nil
		}

		for _, d := range devices {
			flags := ""
			if d.IsGlobal {
				flags += "G"
			}
			if d.IsReadOnly {
				flags += "R"
			}
			lastSync := "never"
			if !d.LastSyncAt.IsZero() {
				lastSync = d.LastSyncAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-24s %-20s %-2s %-16s %s  %s\n",
				d.ID, d.DisplayName, flags, d.Platform, lastSync, d.LastRemoteAddress)
		}
		return nil
	},
}

var entriesCmd = &cobra.Command{
	Use:   "entries DEVICE_ID",
	Short: "List the ledger entries of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Entries(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No entries.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %s  %10d  %s\n",
				e.ContentKey[:12],
				e.UpdatedAt.Format("2006-01-02 15:04:05"),
				e.ByteSize,
				e.ClientPath,
			)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage encrypted ledger backups",
}

var backupKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage backup keys",
}

var backupKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the backup key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		defer passphrase.Zero()
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		defer confirm.Zero()
		if string(passphrase) != string(confirm) {
			return errors.New("passphrases do not match")
		}

		if err := app.InitBackupKeys(cfg.Backup, passphrase); err != nil {
			return err
		}
		fmt.Printf("Backup keys written to %s\n", cfg.Backup.PublicKeyPath)
		return nil
	},
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Back up the ledger database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := a.CreateBackup(cmd.Context())
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Backup written to %s\n", path)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Decrypt a ledger backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return errors.New("--out is required")
		}

		cfg, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		defer passphrase.Zero()

		if err := app.RestoreBackup(cfg.Backup, args[0], out, passphrase); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored ledger to %s\n", out)
		return nil
	},
}

var pairInfoCmd = &cobra.Command{
	Use:   "pair-info",
	Short: "Show the address devices pair with",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		url, err := app.PairingURL(cfg.Server)
		if err != nil {
			return err
		}
		qr, err := app.PairingQR(url)
		if err != nil {
			return err
		}

		fmt.Println(qr)
		fmt.Printf("Server ID: %s\n", cfg.ServerID)
		fmt.Printf("URL:       %s\n", url)
		return nil
	},
}

// service command
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the aperture system service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := svc.CheckPrivileges(); err != nil {
			return err
		}
		cfg, err := serviceConfig(cmd)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := svc.Install(cfg, force); err != nil {
			return err
		}
		fmt.Printf("Service %s installed\n", cfg.Name)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := svc.CheckPrivileges(); err != nil {
			return err
		}
		cfg, err := serviceConfig(cmd)
		if err != nil {
			return err
		}
		if err := svc.Uninstall(cfg); err != nil {
			return err
		}
		fmt.Printf("Service %s uninstalled\n", cfg.Name)
		return nil
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serviceConfig(cmd)
		if err != nil {
			return err
		}
		return svc.Start(cfg)
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serviceConfig(cmd)
		if err != nil {
			return err
		}
		return svc.Stop(cfg)
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the system service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serviceConfig(cmd)
		if err != nil {
			return err
		}
		status, err := svc.Status(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", cfg.Name, svc.StatusString(status))
		return nil
	},
}

var serviceRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run under the service manager",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serviceConfig(cmd)
		if err != nil {
			return err
		}
		return svc.Run(&svc.Program{ConfigPath: cfg.ConfigPath, Run: runServer}, cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $APERTURE_CONFIG_PATH or ~/.config/aperture.toml)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// backup subcommands
	backupKeysCmd.AddCommand(backupKeysInitCmd)
	backupCmd.AddCommand(backupKeysCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupRestoreCmd.Flags().StringP("out", "o", "", "Path to write the decrypted ledger to")

	// service subcommands
	serviceCmd.PersistentFlags().String("user", "", "Account the service runs as (Linux/macOS)")
	serviceInstallCmd.Flags().BoolP("force", "f", false, "Reinstall if already installed")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
	serviceCmd.AddCommand(serviceRunCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(pairInfoCmd)
	rootCmd.AddCommand(serviceCmd)
}
