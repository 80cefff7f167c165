package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recognition server",
	Long: `Start the Face Matcher HTTP server.
POST /recognize accepts {"image": "<base64>"} and returns the enrolled
identities found in the image. Identities are loaded from PostgreSQL when
DATABASE_URL is set and from KNOWN_FACES_FILE when configured.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 5001, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// startupWarnings lists configuration problems worth reporting before serving.
func startupWarnings(cfg *config.Config, host string, identities int) []string {
	var warnings []string
	if identities == 0 {
		warnings = append(warnings, "no known faces registered, /recognize will fail until faces are enrolled")
	}
	if cfg.Web.AdminToken == "" && !isLoopbackHost(host) {
		warnings = append(warnings, fmt.Sprintf(
			"ADMIN_TOKEN is not set, anyone who can reach %s can enroll identities via /api/v1", host))
	}
	return warnings
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{loadSeed: true, useIndex: true})
	if err != nil {
		return err
	}
	defer a.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.client.Ping(pingCtx); err != nil {
		fmt.Printf("Warning: face service at %s is not reachable: %v\n", a.client.BaseURL(), err)
	}
	pingCancel()

	port, host := resolveServeHostPort(cmd)

	m := a.recognizer.Matcher()
	fmt.Printf("Registry: %d identities, threshold %.2f, index %s\n",
		m.Registry().Len(), m.Threshold(), cfg.Matcher.Index)
	for _, warning := range startupWarnings(cfg, host, m.Registry().Len()) {
		fmt.Printf("Warning: %s\n", warning)
	}

	server := web.NewServer(cfg, a.recognizer, port, host)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Matcher on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
