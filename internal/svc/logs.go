package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	Follow      bool
	Lines       int
}

// ViewLogs displays service logs using platform-appropriate tools.
func ViewLogs(opts LogOptions) error {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}

	switch runtime.GOOS {
	case "linux":
		return viewLogsLinux(opts)
	case "darwin":
		return viewLogsDarwin(opts)
	case "windows":
		fmt.Println("Open Event Viewer (eventvwr.msc) > Windows Logs > Application")
		fmt.Printf("and filter by Source: %s\n", opts.ServiceName)
		return nil
	default:
		return fmt.Errorf("log viewing not supported on %s", runtime.GOOS)
	}
}

// viewLogsLinux uses journalctl to view systemd service logs.
func viewLogsLinux(opts LogOptions) error {
	args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
	if opts.Follow {
		args = append(args, "-f")
	}
	return runPassthrough("journalctl", args...)
}

// viewLogsDarwin tails the log files launchd redirects service output to.
func viewLogsDarwin(opts LogOptions) error {
	outLog := fmt.Sprintf("/var/log/%s.out.log", opts.ServiceName)
	errLog := fmt.Sprintf("/var/log/%s.err.log", opts.ServiceName)

	var logs []string
	for _, path := range []string{errLog, outLog} {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			logs = append(logs, path)
		}
	}
	if len(logs) == 0 {
		fmt.Printf("No log files found for service %q\n", opts.ServiceName)
		fmt.Printf("Expected %s and %s\n", outLog, errLog)
		return nil
	}

	args := []string{"-n", strconv.Itoa(opts.Lines)}
	if opts.Follow {
		args = []string{"-f"}
	}
	return runPassthrough("tail", append(args, logs...)...)
}

func runPassthrough(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
