package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/config"
)

// Version is reported at startup
const Version = "1.0.0"

// Run is the main entry point for the application
func Run(args []string) error {
	// Load environment variables
	_ = godotenv.Load()

	// Parse command line flags
	var maintenance MaintenanceOptions
	flags := flag.NewFlagSet("wechat-gateway", flag.ContinueOnError)
	flags.BoolVar(&maintenance.DeleteMenu, "delete-menu", false, "Delete the custom menu and exit")
	flags.BoolVar(&maintenance.ClearQuota, "clear-quota", false, "Reset the daily API quota and exit")
	flags.StringVar(&maintenance.QRScene, "qr-scene", "", "Create a QR code carrying this scene string, print its image URL and exit")
	flags.IntVar(&maintenance.QRExpire, "qr-expire", 0, "Make the -qr-scene code temporary, in seconds")
	flags.StringVar(&maintenance.UserInfo, "user-info", "", "Print the follower profile for this open id and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// Load and validate configuration
	cfg := config.Load()

	// Initialize logging
	closer, err := logging.InitGlobalLogger(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	defer logging.MustSync()

	logging.Info("Starting wechat gateway",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: Version},
	)

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if maintenance.Requested() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := app.RunMaintenance(ctx, maintenance, os.Stdout); err != nil {
			logging.Error("Maintenance operation failed", err)
			return err
		}
		return nil
	}

	// Start server
	srv, _, err := app.RunServer(nil)
	if err != nil {
		logging.Error("Failed to build server", err)
		return err
	}
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-srv.Errors():
		return err
	}

	logging.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
