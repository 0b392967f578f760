// Package svc provides cross-platform system service support for restitch.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// RunFunc runs the ingest service until the context is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	ConfigPath string  // Path to configuration file
	RunServe   RunFunc // Function running the ingest service

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts. It must not block; the actual
// work runs in a goroutine.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.RunServe == nil {
			p.done <- fmt.Errorf("serve function not configured")
			return
		}
		p.done <- p.RunServe(p.ctx, p.ConfigPath)
	}()

	return nil
}

// Stop signals the running goroutine and waits for it to finish. A run that
// ended because the context was cancelled is a clean stop.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string // Service name (default "restitch")
	DisplayName string // Display name shown in service manager
	Description string // Service description
	ConfigPath  string // Path to configuration file
	UserName    string // User to run service as (Linux/macOS only)
}

// DefaultServiceName returns the default service name.
func DefaultServiceName() string {
	return "restitch"
}

// DefaultDisplayName returns a human-readable display name.
func DefaultDisplayName() string {
	return "Restitch Upload Reassembly"
}

// DefaultDescription returns the service description.
func DefaultDescription() string {
	return "Restitch chunked upload reassembly service"
}

// DefaultConfigPath returns the default config file path for the platform.
func DefaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Restitch", "config.yaml")
	default: // linux, darwin
		return "/etc/restitch/config.yaml"
	}
}

// newService builds the kardianos service handle for cfg. The installed unit
// re-invokes the binary with --service-run so startup skips the CLI.
func newService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   []string{"--service-run", "--config", cfg.ConfigPath},
	}

	switch runtime.GOOS {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
		svcCfg.UserName = cfg.UserName
	case "darwin":
		svcCfg.Option = service.KeyValue{
			"KeepAlive":     true,
			"RunAtLoad":     true,
			"SessionCreate": true,
		}
		svcCfg.UserName = cfg.UserName
	case "windows":
		svcCfg.Option = service.KeyValue{
			"OnFailure":      "restart",
			"OnFailureDelay": "5s",
		}
	}

	return service.New(prg, svcCfg)
}

// control resolves the service and applies one management action. The
// kardianos error already names the action and service.
func control(cfg *ServiceConfig, action string) error {
	svc, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return service.Control(svc, action)
}

// Start starts the installed service.
func Start(cfg *ServiceConfig) error { return control(cfg, "start") }

// Stop stops the installed service.
func Stop(cfg *ServiceConfig) error { return control(cfg, "stop") }

// Restart restarts the installed service.
func Restart(cfg *ServiceConfig) error { return control(cfg, "restart") }

// Install installs the service. With force set, an existing installation is
// stopped and removed first.
func Install(cfg *ServiceConfig, force bool) error {
	svc, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	// Status errors mean not installed; proceed straight to install.
	if status, statusErr := svc.Status(); statusErr == nil {
		if !force {
			if status == service.StatusRunning {
				return fmt.Errorf("service %q is running; stop it first or use --force", cfg.Name)
			}
			return fmt.Errorf("service %q already installed; use --force to reinstall", cfg.Name)
		}
		if status == service.StatusRunning {
			if err := svc.Stop(); err != nil {
				log.Warn().Err(err).Msg("stop before reinstall failed")
			}
		}
		if err := svc.Uninstall(); err != nil {
			log.Warn().Err(err).Msg("uninstall before reinstall failed")
		}
	}

	if err := svc.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall stops the service if needed and removes it.
func Uninstall(cfg *ServiceConfig) error {
	svc, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if status, _ := svc.Status(); status == service.StatusRunning {
		if err := svc.Stop(); err != nil {
			log.Warn().Err(err).Msg("stop before uninstall failed")
		}
	}

	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	svc, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return service.StatusUnknown, fmt.Errorf("create service: %w", err)
	}
	return svc.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run hands the program to the service manager. Called from the --service-run
// entry path.
func Run(prg *Program, cfg *ServiceConfig) error {
	svc, err := newService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return svc.Run()
}

// CheckPrivileges checks if the current user has sufficient privileges for
// service management.
func CheckPrivileges() error {
	switch runtime.GOOS {
	case "windows":
		// The install itself produces the authoritative error when the
		// caller is not elevated.
		return nil
	default:
		if os.Geteuid() != 0 {
			return fmt.Errorf("root privileges required (use sudo)")
		}
		return nil
	}
}

// IsServiceMode reports whether the process was started by a service manager
// (--service-run flag present).
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == "--service-run" {
			return true
		}
	}
	return false
}
