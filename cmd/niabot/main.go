package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"niabot/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "niabot"

func main() {
	// Optional .env overlay for local development; env vars win over the
	// JSON config either way.
	_ = godotenv.Load()

	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Personal AI companion with a persistent personality, Discord DMs, and proactive check-ins",
		Long: strings.TrimSpace(`niabot is a single-user conversational companion.

It keeps a per-user personality profile and conversation history, talks over
owner-only Discord DMs or a local HTTP gateway, and reaches out on its own
through scheduled follow-ups and daily conversation starters.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  niabot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.niabot config and workspace",
		Long:    "Create the default configuration file and workspace directories for a new installation.",
		Example: "  niabot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	workspace := cfg.WorkspacePath()
	for _, dir := range []string{workspace, filepath.Join(workspace, "state"), filepath.Join(workspace, "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating workspace: %w", err)
		}
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your OpenRouter API key to", configPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Println("  2. (Gateway mode) Add your Discord bot token and owner id to channels.discord")
	fmt.Println("  3. Chat locally: niabot chat -m \"Hello!\"")
	fmt.Println("  4. Run gateway: niabot gateway")
	fmt.Println("  5. Check readiness: niabot status")
	return nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  niabot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusCmd()
			return nil
		},
	}
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}
	profileDB := filepath.Join(workspace, "state", "niabot.db")
	if _, err := os.Stat(profileDB); err == nil {
		fmt.Println("Profile DB:", profileDB, "✓")
	} else {
		fmt.Println("Profile DB:", profileDB, "not initialized")
	}

	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Timezone: %s\n", cfg.Location())
	start, end := cfg.ActiveWindow()
	fmt.Printf("Active hours: %02d:00-%02d:00\n", start, end)

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "not set"
	}
	apiReady := strings.TrimSpace(cfg.GetAPIKey()) != ""
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != "" &&
		strings.TrimSpace(cfg.Channels.Discord.OwnerID) != ""

	fmt.Println("OpenRouter API:", status(apiReady))
	fmt.Println("Discord:", status(discordReady))
	fmt.Println("Chat ready:", status(apiReady))
	fmt.Println("Gateway ready:", status(apiReady && discordReady))
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".niabot", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}
