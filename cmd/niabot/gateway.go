package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"niabot/pkg/bus"
	"niabot/pkg/channels"
	"niabot/pkg/config"
	"niabot/pkg/gateway"
	"niabot/pkg/logger"
	"niabot/pkg/scheduler"
)

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway, scheduler, and HTTP surface",
		Long:    "Start the owner-only Discord DM channel, the follow-up and daily-starter scheduler, and the local HTTP gateway.",
		Example: "  niabot gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
				fmt.Println("🔍 Debug mode enabled")
			}
			return gatewayCmd()
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func gatewayCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg, true); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logDir := filepath.Join(cfg.WorkspacePath(), "logs")
	if err := os.MkdirAll(logDir, 0755); err == nil {
		if err := logger.SetLogFile(filepath.Join(logDir, "niabot.log")); err != nil {
			fmt.Printf("Warning: file logging disabled: %v\n", err)
		}
	}
	defer logger.Close()

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Fired triggers re-enter the loop as system turns on the Discord
	// channel; an empty ChatID routes the reply to the owner DM.
	rt.sched.SetOnFire(func(t scheduler.Trigger) {
		rt.bus.PublishInbound(bus.InboundMessage{
			Channel:  "discord",
			SenderID: t.UserID,
			Content:  t.Instruction,
			System:   true,
		})
	})

	channelManager, err := channels.NewManager(cfg, rt.bus)
	if err != nil {
		return fmt.Errorf("creating channel manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	fmt.Println("✓ Scheduler started")

	start, end := cfg.ActiveWindow()
	minPerDay, maxPerDay := cfg.StarterBounds()
	starters := scheduler.NewDailyStarters(rt.sched, rt.ownerUID(), start, end, minPerDay, maxPerDay)
	if err := starters.Start(); err != nil {
		return fmt.Errorf("starting daily starters: %w", err)
	}
	fmt.Printf("✓ Daily starters armed (%d-%d per day, %02d:00-%02d:00)\n", minPerDay, maxPerDay, start, end)

	if err := channelManager.StartAll(ctx); err != nil {
		rt.sched.Stop()
		return fmt.Errorf("starting channels: %w", err)
	}
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(channelManager.GetEnabledChannels(), ", "))

	httpServer := gateway.NewServer(cfg, rt.orch, rt.store, rt.bus)
	go func() {
		if err := httpServer.Run(ctx); err != nil {
			logger.ErrorCF("gateway", "HTTP server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	fmt.Printf("✓ Gateway started on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	go rt.orch.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	rt.orch.Stop()
	rt.sched.Stop()
	if err := channelManager.StopAll(context.Background()); err != nil {
		logger.WarnCF("gateway", "Channel shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	fmt.Println("✓ Gateway stopped")
	return nil
}
