// Command taskfactoryd is the Task Factory daemon: it loads the workspace
// registry, starts one queue manager and one planning session per active
// workspace, and serves the thin HTTP/WebSocket shim described in
// internal/server. Single-instance lifecycle (conflict detection,
// PID file, graceful/-force stop) is handled by internal/instance,
// generalized from the teacher's one-process-per-machine model.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession/natsbridge"
	"github.com/taskfactory/daemon/internal/ferrors"
	"github.com/taskfactory/daemon/internal/instance"
	"github.com/taskfactory/daemon/internal/notifications"
	"github.com/taskfactory/daemon/internal/notifications/external"
	"github.com/taskfactory/daemon/internal/planning"
	"github.com/taskfactory/daemon/internal/server"
	"github.com/taskfactory/daemon/internal/workspace"
)

const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
)

func main() {
	port := flag.Int("port", 7420, "HTTP server port")
	homeDir := flag.String("home", defaultHomeDir(), "Task Factory home directory (workspace registry + daemon metadata)")
	workspacePath := flag.String("workspace", "", "Project directory to register and actively process (default: current directory)")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "NATS bridge URL for the external agent-session engine")

	status := flag.Bool("status", false, "Show status of running instance")
	stop := flag.Bool("stop", false, "Stop running instance gracefully")
	forceStop := flag.Bool("force-stop", false, "Force kill running instance")
	flag.Parse()

	pidFilePath := filepath.Join(*homeDir, "taskfactoryd.pid")
	registryPath := filepath.Join(*homeDir, "workspaces.json")

	if *status {
		showInstanceStatus(pidFilePath, registryPath, *port)
		os.Exit(0)
	}
	if *stop || *forceStop {
		stopInstance(pidFilePath, *forceStop)
		os.Exit(0)
	}

	if err := os.MkdirAll(*homeDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create home directory: %v\n", err)
		os.Exit(1)
	}

	instanceMgr := instance.NewManager(pidFilePath, registryPath, *port)

	existingInfo, err := instanceMgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check for existing instance: %v\n", err)
		os.Exit(1)
	}
	if existingInfo != nil && existingInfo.IsRunning {
		resolver := instance.NewConflictResolver(instanceMgr, instance.IsInteractive())
		if err := resolver.Resolve(existingInfo); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve instance conflict: %v\n", err)
			os.Exit(1)
		}
		*port = instanceMgr.GetPort()
	}

	if err := instanceMgr.AcquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
		os.Exit(1)
	}
	defer instanceMgr.ReleaseLock()

	fmt.Print(colorGreen)
	printBanner()
	fmt.Print(colorReset)

	registry, err := workspace.NewRegistry(*homeDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workspace registry: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  Workspace registry loaded from %s\n", registryPath)

	if *workspacePath == "" {
		*workspacePath, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to determine working directory: %v\n", err)
			os.Exit(1)
		}
	}
	ws, err := ensureWorkspace(registry, *workspacePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register workspace: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  Workspace %s ready (%s)\n", ws.ID, ws.Path)

	persister := activity.NewJSONLStore(func(workspaceID string) string {
		w, err := registry.GetWorkspaceByID(workspaceID)
		if err != nil {
			return ""
		}
		return w.ArtifactRoot
	})
	bus := activity.New(persister)
	notifier := notifications.NewDefaultManager()
	if router := buildExternalRouter(); router != nil {
		notifier.SetExternalRouter(router)
	}

	natsClient, err := natsbridge.NewClient(*natsURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to agent-session bridge at %s: %v\n", *natsURL, err)
		os.Exit(1)
	}
	defer natsClient.Close()
	adapter := natsbridge.NewAdapter(natsClient)

	planningMgr := planning.NewManager(adapter, bus)

	daemon := newDaemonState(registry, bus, adapter, planningMgr, notifier)

	// ensureWorkspace already registered ws, so it appears in ListWorkspaces;
	// resuming every registered workspace here also covers it. startWorkspace
	// is idempotent per workspace ID.
	started := 0
	for _, known := range registry.ListWorkspaces() {
		w := known
		if err := daemon.startWorkspace(&w); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start workspace %s: %v\n", w.ID, err)
			continue
		}
		started++
	}
	if started == 0 {
		fmt.Fprintf(os.Stderr, "Failed to start workspace %s\n", ws.ID)
		os.Exit(1)
	}
	fmt.Printf("  Queue manager and planning session started for %d workspace(s)\n", started)

	srv := server.NewServer(registry, bus)

	fmt.Printf("  Checking port %d availability...\n", *port)
	if !instance.IsPortAvailable(*port) {
		procPID, _ := instance.GetProcessUsingPort(*port)
		fmt.Fprintf(os.Stderr, "\n  ERROR: Port %d is in use by process %d\n", *port, procPID)
		fmt.Fprintf(os.Stderr, "  Try: Use a different port with -port 8080\n")
		os.Exit(1)
	}
	fmt.Println("  Port available")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(fmt.Sprintf(":%d", *port))
	}()

	serverStarted := false
	for i := 0; i < 50; i++ { // 5 second timeout (50 * 100ms)
		time.Sleep(100 * time.Millisecond)

		select {
		case err := <-serverErr:
			fmt.Fprintf(os.Stderr, "Server failed to start: %v\n", err)
			os.Exit(1)
		default:
		}

		if instance.HealthCheck(*port) == nil {
			serverStarted = true
			break
		}
	}
	if !serverStarted {
		fmt.Fprintf(os.Stderr, "Server failed to become ready within timeout\n")
		os.Exit(1)
	}
	fmt.Printf("  Server ready at http://localhost:%d\n", *port)
	fmt.Println()

	if err := instanceMgr.WritePIDFile(os.Getpid(), *port, *homeDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to write PID file: %v\n", err)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println()
		fmt.Println("Shutting down (signal received)...")
	case <-srv.ShutdownRequested:
		fmt.Println()
		fmt.Println("Shutting down (shutdown request received)...")
	}

	fmt.Println("Stopping workspace queues...")
	daemon.stopAll()

	fmt.Println("Removing PID file...")
	instanceMgr.RemovePIDFile()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fmt.Println("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
	}

	fmt.Println("Goodbye!")
}

// buildExternalRouter wires Slack/Discord/email channels from environment
// variables, returning nil if none are configured. Webhook URLs and SMTP
// credentials have no place in workspaces.json, so these stay env-driven
// rather than part of workspace.Config.
func buildExternalRouter() *notifications.Router {
	var channels []notifications.NotificationChannel

	if url := os.Getenv("TASKFACTORY_SLACK_WEBHOOK_URL"); url != "" {
		channels = append(channels, external.NewSlackNotifier(external.SlackConfig{
			WebhookURL: url,
			Channel:    os.Getenv("TASKFACTORY_SLACK_CHANNEL"),
			Username:   "Task Factory",
		}))
	}

	if url := os.Getenv("TASKFACTORY_DISCORD_WEBHOOK_URL"); url != "" {
		channels = append(channels, external.NewDiscordNotifier(external.DiscordConfig{
			WebhookURL: url,
			Username:   "Task Factory",
		}))
	}

	if host := os.Getenv("TASKFACTORY_SMTP_HOST"); host != "" {
		port := 587
		if v := os.Getenv("TASKFACTORY_SMTP_PORT"); v != "" {
			fmt.Sscanf(v, "%d", &port)
		}
		to := os.Getenv("TASKFACTORY_ALERT_EMAIL_TO")
		if to != "" {
			channels = append(channels, external.NewEmailNotifier(external.EmailConfig{
				SMTPHost: host,
				SMTPPort: port,
				Username: os.Getenv("TASKFACTORY_SMTP_USERNAME"),
				Password: os.Getenv("TASKFACTORY_SMTP_PASSWORD"),
				From:     os.Getenv("TASKFACTORY_ALERT_EMAIL_FROM"),
				To:       []string{to},
			}))
		}
	}

	if len(channels) == 0 {
		return nil
	}
	return notifications.NewRouter(channels)
}

// defaultHomeDir is ~/.taskfactory, the authoritative registry location.
func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskfactory"
	}
	return filepath.Join(home, ".taskfactory")
}

// ensureWorkspace loads the workspace registered at path, registering a new
// one on first run.
func ensureWorkspace(registry *workspace.Registry, path string) (*workspace.Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	ws, err := registry.LoadWorkspace(abs)
	if err == nil {
		return ws, nil
	}
	if !ferrors.Is(err, ferrors.KindNotFound) {
		return nil, err
	}
	name := filepath.Base(abs)
	artifactRoot := filepath.Join(abs, ".taskfactory")
	return registry.CreateWorkspace(abs, name, artifactRoot)
}

func printBanner() {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                  Task Factory v1.0.0                   ║")
	fmt.Println("  ║         coding-agent task scheduler daemon             ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()
}

// showInstanceStatus displays information about the running instance.
func showInstanceStatus(pidFilePath, registryPath string, port int) {
	mgr := instance.NewManager(pidFilePath, registryPath, port)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if info == nil {
		fmt.Println("No taskfactoryd instance is currently running")
		return
	}

	fmt.Println()
	fmt.Println("Task Factory Instance Status")
	fmt.Println("============================")
	fmt.Println()

	statusIcon := "OK"
	if !info.IsResponding {
		statusIcon = "DEGRADED"
	}

	fmt.Printf("Instance:  RUNNING (%s)\n", statusIcon)
	fmt.Printf("  PID:     %d\n", info.PID)
	fmt.Printf("  Port:    %d\n", info.Port)
	fmt.Printf("  Started: %s (%s ago)\n", info.StartTime.Format("2006-01-02 15:04:05"), time.Since(info.StartTime).Round(time.Second))
	fmt.Printf("  Server:  http://localhost:%d\n", info.Port)
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Printf("  Stop:       taskfactoryd -stop\n")
	fmt.Printf("  Force kill: taskfactoryd -force-stop\n")
	fmt.Println()
}

// stopInstance stops the running instance gracefully or forcibly.
func stopInstance(pidFilePath string, force bool) {
	mgr := instance.NewManager(pidFilePath, "", 0)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Println("No taskfactoryd instance is currently running")
		return
	}

	if force {
		fmt.Printf("Force killing process %d...\n", info.PID)
		if err := instance.KillProcess(info.PID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to kill process: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(1 * time.Second)
		mgr.RemovePIDFile()
		fmt.Println("Instance terminated")
		return
	}

	fmt.Printf("Sending graceful shutdown request to instance on port %d...\n", info.Port)
	if err := instance.SendShutdownRequest(info.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send shutdown request: %v\n", err)
		fmt.Println("Try using -force-stop to force kill the process")
		os.Exit(1)
	}

	fmt.Println("Waiting for graceful shutdown...")
	if instance.WaitForPortToBeAvailable(info.Port, 5*time.Second) {
		fmt.Println("Instance stopped successfully")
	} else {
		fmt.Println("Warning: Instance may still be running")
		fmt.Println("Try: taskfactoryd -force-stop")
	}
}
