package main

import (
	"fmt"
	"os"

	"github.com/restitch/restitch/internal/svc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serviceConfigPath string
	serviceName       string
	serviceUser       string
	forceInstall      bool
	logsFollow        bool
	logsLines         int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the Restitch system service",
		Long: `Install, control, and manage Restitch as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  # Install the service
  sudo restitch service install --config /etc/restitch/config.yaml

  # Control the service
  sudo restitch service start
  sudo restitch service stop
  sudo restitch service status

  # View logs
  sudo restitch service logs --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install Restitch as a system service",
		Long: `Install Restitch as a system service that starts automatically at boot.

Requires administrator/root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVarP(&serviceConfigPath, "config", "c", "", "Path to configuration file")
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the Restitch system service",
		RunE:  controlRunE("uninstalled", svc.Uninstall),
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Restitch service",
		RunE:  controlRunE("started", svc.Start),
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the Restitch service",
		RunE:  controlRunE("stopped", svc.Stop),
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the Restitch service",
		RunE:  controlRunE("restarted", svc.Restart),
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show Restitch service status",
		RunE:  runServiceStatus,
	}

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View Restitch service logs",
		Long: `View logs from the Restitch service.

Log locations by platform:
  - Linux:   journalctl -u restitch
  - macOS:   /var/log/restitch.err.log and /var/log/restitch.out.log
  - Windows: Event Viewer > Application log`,
		RunE: runServiceLogs,
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")

	subCmds := []*cobra.Command{installCmd, uninstallCmd, startCmd, stopCmd, restartCmd, statusCmd, logsCmd}
	for _, c := range subCmds {
		c.Flags().StringVarP(&serviceName, "name", "n", "", "Service name (default: restitch)")
	}
	serviceCmd.AddCommand(subCmds...)

	return serviceCmd
}

func getServiceConfig() *svc.ServiceConfig {
	name := serviceName
	if name == "" {
		name = svc.DefaultServiceName()
	}

	configPath := serviceConfigPath
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	return &svc.ServiceConfig{
		Name:        name,
		DisplayName: svc.DefaultDisplayName(),
		Description: svc.DefaultDescription(),
		ConfigPath:  configPath,
		UserName:    serviceUser,
	}
}

// controlRunE wraps one service management action as a cobra handler: check
// privileges, apply the action, report the outcome. done is the past-tense
// verb for the success message.
func controlRunE(done string, action func(*svc.ServiceConfig) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		setupLogging()

		if err := svc.CheckPrivileges(); err != nil {
			return err
		}

		cfg := getServiceConfig()
		log.Info().Str("name", cfg.Name).Str("action", cmd.Name()).Msg("service control")

		if err := action(cfg); err != nil {
			return err
		}

		fmt.Printf("Service %q %s.\n", cfg.Name, done)
		return nil
	}
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	// The unit references the config path; installing without one in place
	// produces a service that fails on first start.
	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s\nCreate the config file first or specify a different path with --config", cfg.ConfigPath)
	}

	log.Info().
		Str("name", cfg.Name).
		Str("config", cfg.ConfigPath).
		Msg("installing service")

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	fmt.Printf("Service %q installed successfully.\n", cfg.Name)
	fmt.Printf("\nTo start the service:\n")
	fmt.Printf("  restitch service start --name %s\n", cfg.Name)
	fmt.Printf("\nTo view logs:\n")
	fmt.Printf("  restitch service logs --name %s\n", cfg.Name)

	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg := getServiceConfig()

	status, err := svc.Status(cfg)
	if err != nil {
		// Service might not be installed
		fmt.Printf("Service: %s\n", cfg.Name)
		fmt.Printf("Status:  not installed or unknown\n")
		fmt.Printf("Error:   %v\n", err)
		return nil
	}

	fmt.Printf("Service: %s\n", cfg.Name)
	fmt.Printf("Status:  %s\n", svc.StatusString(status))
	fmt.Printf("Config:  %s\n", cfg.ConfigPath)

	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()

	return svc.ViewLogs(svc.LogOptions{
		ServiceName: cfg.Name,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}
