// daemon.go: background process management for the scenebus server.
//
// Usage:
//
//	scenebus server start   : start as background daemon
//	scenebus server stop    : send SIGTERM, then SIGKILL after a timeout
//	scenebus server restart : stop + start
//	scenebus server reload  : send SIGHUP (re-read budgets and routes)
//	scenebus server status  : check the running process
//	scenebus server         : run in the foreground
package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/scenebus/internal/config"
	"github.com/dayuer/scenebus/internal/utils"
)

const (
	pidFileName = "scenebus.pid"
	logFileName = "scenebus.log"
)

func init() {
	serverCmd.AddCommand(startCmd)
	serverCmd.AddCommand(stopCmd)
	serverCmd.AddCommand(restartCmd)
	serverCmd.AddCommand(reloadCmd)
	serverCmd.AddCommand(serverStatusCmd)
}

// --- PID file helpers ---

func pidFilePath() string {
	return filepath.Join(config.GetConfigDir(), pidFileName)
}

func logFilePath() string {
	return filepath.Join(config.GetConfigDir(), logFileName)
}

func writePID(pid int) error {
	if _, err := utils.EnsureDir(config.GetConfigDir()); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

// isRunning checks if a process with the given PID is alive.
func isRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// getRunningPID returns the live server PID, clearing a stale PID file.
func getRunningPID() (int, bool) {
	pid, err := readPID()
	if err != nil {
		return 0, false
	}
	if !isRunning(pid) {
		removePID()
		return 0, false
	}
	return pid, true
}

func spawnServer(exe string) (*os.Process, error) {
	args := []string{"server"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	if serverPort != 0 {
		args = append(args, "--port", strconv.Itoa(serverPort))
	}
	if serverAPIKey != "" {
		args = append(args, "--api-key", serverAPIKey)
	}
	if serverNoWatch {
		args = append(args, "--no-watch")
	}

	if _, err := utils.EnsureDir(config.GetConfigDir()); err != nil {
		return nil, err
	}
	outFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}
	defer outFile.Close()

	proc := exec.Command(exe, args...)
	proc.Stdout = outFile
	proc.Stderr = outFile
	proc.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	proc.Env = os.Environ()

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	return proc.Process, nil
}

func stopServer(pid int, timeout time.Duration) {
	if proc, err := os.FindProcess(pid); err == nil {
		proc.Signal(syscall.SIGTERM)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isRunning(pid) {
			removePID()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	if proc, err := os.FindProcess(pid); err == nil {
		proc.Signal(syscall.SIGKILL)
	}
	time.Sleep(200 * time.Millisecond)
	removePID()
}

// --- Subcommands ---

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scenebus server as a background daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, ok := getRunningPID(); ok {
			return fmt.Errorf("scenebus server is already running (PID %d)", pid)
		}

		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot find executable: %w", err)
		}

		proc, err := spawnServer(exe)
		if err != nil {
			return err
		}
		pid := proc.Pid
		proc.Release()
		writePID(pid)

		fmt.Printf("✅ scenebus server started (PID %d)\n", pid)
		fmt.Printf("   PID file: %s\n", pidFilePath())
		fmt.Printf("   Log: %s\n", logFilePath())
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running scenebus server",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, ok := getRunningPID()
		if !ok {
			fmt.Println("ℹ️ scenebus server is not running")
			return nil
		}

		fmt.Printf("🛑 Stopping scenebus server (PID %d)...\n", pid)
		stopServer(pid, 10*time.Second)
		fmt.Println("✅ Stopped")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the scenebus server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid, ok := getRunningPID(); ok {
			fmt.Printf("🔄 Restarting (PID %d)...\n", pid)
			stopServer(pid, 10*time.Second)
		}
		return startCmd.RunE(cmd, args)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Send SIGHUP to the server (reload budgets and routes)",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, ok := getRunningPID()
		if !ok {
			return fmt.Errorf("scenebus server is not running")
		}
		if proc, err := os.FindProcess(pid); err == nil {
			proc.Signal(syscall.SIGHUP)
		}
		fmt.Printf("✅ Reload signal sent (PID %d)\n", pid)
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the scenebus server process",
	Run: func(cmd *cobra.Command, args []string) {
		pid, ok := getRunningPID()
		if !ok {
			fmt.Println("⚫ scenebus server is not running")
			return
		}

		fmt.Printf("✅ scenebus server running (PID %d)\n", pid)
		fmt.Printf("   PID file: %s\n", pidFilePath())

		if data, err := os.ReadFile(logFilePath()); err == nil {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			start := len(lines) - 5
			if start < 0 {
				start = 0
			}
			fmt.Println("   Last log lines:")
			for _, l := range lines[start:] {
				fmt.Printf("     %s\n", l)
			}
		}
	},
}
