package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"niabot/pkg/bus"
	"niabot/pkg/config"
	"niabot/pkg/logger"
)

func newChatCommand() *cobra.Command {
	var (
		message string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent locally (no Discord)",
		Long:  "Run an interactive local session or send a one-shot message. Uses the same profile and history as the gateway.",
		Example: strings.Join([]string{
			"  niabot chat",
			"  niabot chat --message \"how was my week?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DEBUG)
				fmt.Println("🔍 Debug mode enabled")
			}
			return chatCmd(message)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func chatCmd(message string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg, false); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if message != "" {
		printTurn(rt, message)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	return interactiveMode(rt)
}

func interactiveMode(rt *appRuntime) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".niabot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		printTurn(rt, input)
	}
}

func printTurn(rt *appRuntime, input string) {
	result := rt.orch.Process(context.Background(), bus.InboundMessage{
		Channel:  "cli",
		SenderID: rt.ownerUID(),
		Content:  input,
	})

	name := rt.cfg.Agent.Name
	if result.Response == "" {
		fmt.Printf("\n%s: 👍\n\n", name)
		return
	}

	fmt.Printf("\n%s: %s\n", name, result.Response)
	if len(result.Updated) > 0 {
		fmt.Printf("  (updated fields: %s)\n", strings.Join(result.Updated, ", "))
	}
	fmt.Println()
}
