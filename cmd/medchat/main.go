package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"MedChat/internal/chatbot"
	"MedChat/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	apiURL   string
	dataDir  string
	timeout  time.Duration
	debug    bool
	useCache bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "medchat",
		Short: "Terminal client for the medical information assistant",
		Long:  "medchat logs in to the assistant API and lets you ask health questions from the terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/medchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "assistant API base URL (default http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for the session database and logs (default ~/.medchat)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "per-request timeout (0 = transport default)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useCache, "cache", false, "reuse replies to repeated questions")

	rootCmd.AddCommand(
		newChatCmd(),
		newLoginCmd(),
		newRegisterCmd(),
		newLogoutCmd(),
		newWhoAmICmd(),
		newStatusCmd(),
	)

	return rootCmd
}

// loadConfig loads configuration, applying CLI flag overrides
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	if flags.Changed("cache") {
		cfg.CacheEnabled = useCache
	}
	return cfg, cfg.Validate()
}

func openBot(cmd *cobra.Command) (*chatbot.ChatBot, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	bot, err := chatbot.NewChatBot(cfg, chatbot.NewTerminalPrompter(), cmd.OutOrStdout())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize medchat: %w", err)
	}
	return bot, nil
}

func runChat(cmd *cobra.Command) error {
	bot, err := openBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()

	return bot.Run(cmd.Context())
}
