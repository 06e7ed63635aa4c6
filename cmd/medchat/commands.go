package main

import (
	"fmt"

	"MedChat/internal/api"
	"MedChat/internal/chatbot"

	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd)
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Log in and remember the session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBot(cmd, func(bot *chatbot.ChatBot) error {
				username := ""
				if len(args) == 1 {
					username = args[0]
				}
				return friendly(bot.PromptLogin(cmd.Context(), username))
			})
		},
	}
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBot(cmd, func(bot *chatbot.ChatBot) error {
				return friendly(bot.PromptRegister(cmd.Context()))
			})
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBot(cmd, func(bot *chatbot.ChatBot) error {
				bot.Logout()
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out successfully.")
				return nil
			})
		},
	}
}

func newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBot(cmd, func(bot *chatbot.ChatBot) error {
				fmt.Fprintln(cmd.OutOrStdout(), bot.WhoAmI())
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the assistant API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBot(cmd, func(bot *chatbot.ChatBot) error {
				h, err := bot.Status(cmd.Context())
				if err != nil {
					return friendly(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "API status: %s (AI: %s)\n", h.Status, h.Groq)
				return nil
			})
		},
	}
}

func withBot(cmd *cobra.Command, fn func(*chatbot.ChatBot) error) error {
	bot, err := openBot(cmd)
	if err != nil {
		return err
	}
	defer bot.Close()
	return fn(bot)
}

// friendly replaces API errors with the text shown to users
func friendly(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", api.UserMessage(err))
}
