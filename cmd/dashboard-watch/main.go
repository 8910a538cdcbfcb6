package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docpulse/internal/observer"
)

var (
	apiURL         string
	wsURL          string
	recentLimit    int
	reconnectDelay time.Duration
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "dashboard-watch",
	Short: "Follow document notifications and log dashboard snapshots",
	Long: `Connects to the realtime endpoint and re-queries the dashboard on start
and after every notification. Dropped connections are retried; events missed
while disconnected are not replayed.`,
	SilenceUsage: true,
	RunE:         runWatch,
}

func init() {
	rootCmd.Flags().StringVar(&apiURL, "api", envOr("DOCPULSE_API_URL", "http://localhost:8080"), "API base URL")
	rootCmd.Flags().StringVar(&wsURL, "ws", os.Getenv("DOCPULSE_WS_URL"), "websocket URL (default <api>/ws)")
	rootCmd.Flags().IntVar(&recentLimit, "limit", 10, "recent documents per snapshot")
	rootCmd.Flags().DurationVar(&reconnectDelay, "reconnect-delay", 3*time.Second, "delay before reconnecting")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func runWatch(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	client, err := observer.New(apiURL, wsURL, recentLimit, reconnectDelay, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return client.Run(ctx, func(s observer.Snapshot) {
		observer.LogSnapshot(logger, s)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
