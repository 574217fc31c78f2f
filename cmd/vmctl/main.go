// Package main provides vmctl, an operator CLI for guest maintenance:
// power control, status, clean-snapshot revert and snapshot creation.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/config"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/control"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/guest"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/sandbox"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

var (
	cfgFile string
	gui     bool
	hard    bool
)

var rootCmd = &cobra.Command{
	Use:   "vmctl",
	Short: "Control the sandbox analysis guest",
	Long:  "vmctl manages the disposable analysis guest outside of analysis sessions: power it on or off, inspect its state, revert to the clean snapshot, or record a new snapshot.",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Power on the guest and prepare the analysis workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *sandbox.Manager) error {
			mode := types.StartHeadless
			if gui {
				mode = types.StartGUI
			}
			if err := m.StartGuest(ctx, mode); err != nil {
				return err
			}
			fmt.Println("guest started")
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Power off the guest",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *sandbox.Manager) error {
			mode := types.StopSoft
			if hard {
				mode = types.StopHard
			}
			if err := m.StopGuest(ctx, mode); err != nil {
				return err
			}
			fmt.Println("guest stopped")
			return nil
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Power the guest off and on again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *sandbox.Manager) error {
			if err := m.StopGuest(ctx, types.StopSoft); err != nil {
				return err
			}
			if err := m.StartGuest(ctx, types.StartHeadless); err != nil {
				return err
			}
			fmt.Println("guest restarted")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the guest power state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *sandbox.Manager) error {
			fmt.Println(m.VMStatus(ctx))
			return nil
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Revert the guest to the clean snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *sandbox.Manager) error {
			if err := m.Reset(ctx); err != nil {
				return err
			}
			fmt.Println("guest reverted to clean snapshot")
			return nil
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <name>",
	Short: "Record the current guest state as a named snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *sandbox.Manager) error {
			if err := m.Snapshot(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("snapshot %q created\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	startCmd.Flags().BoolVar(&gui, "gui", false, "start with the hypervisor UI visible")
	stopCmd.Flags().BoolVar(&hard, "hard", false, "force power off instead of a guest-cooperative shutdown")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// withManager loads configuration, builds the session manager, and runs
// one maintenance operation against it.
func withManager(fn func(context.Context, *sandbox.Manager) error) error {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.Sync()

	invoker := control.NewVMRun(&control.Config{
		VMRunPath:      cfg.VM.VMRunPath,
		HostType:       cfg.VM.HostType,
		GuestUser:      cfg.VM.GuestUser,
		GuestPass:      cfg.VM.GuestPass,
		DefaultTimeout: cfg.VM.GetDefaultTimeout(),
	})
	if !invoker.Available() {
		return fmt.Errorf("vmrun not found at %q", cfg.VM.VMRunPath)
	}

	manager := sandbox.NewManager(invoker, &guest.Config{
		VMXPath:        cfg.VM.VMXPath,
		CleanSnapshot:  cfg.VM.CleanSnapshot,
		WorkspaceRoot:  types.GuestPath(cfg.VM.WorkspaceRoot),
		DefaultTimeout: cfg.VM.GetDefaultTimeout(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return fn(ctx, manager)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
