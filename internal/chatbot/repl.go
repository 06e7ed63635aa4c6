package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"MedChat/internal/api"
	"MedChat/internal/guard"
	"MedChat/internal/session"
)

// PromptLogin asks for credentials (username may be prefilled) and signs in
func (cb *ChatBot) PromptLogin(ctx context.Context, username string) error {
	var err error
	if username == "" {
		username, err = cb.prompt.ReadLine("Username: ")
		if err != nil {
			return err
		}
	}
	password, err := cb.prompt.ReadPassword("Password: ")
	if err != nil {
		return err
	}

	user, err := cb.Login(ctx, username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(cb.out, "Welcome back, %s!\n", displayName(user))
	return nil
}

// PromptRegister asks for account details and creates the account
func (cb *ChatBot) PromptRegister(ctx context.Context) error {
	var req api.RegisterRequest
	var err error

	if req.Username, err = cb.prompt.ReadLine("Username: "); err != nil {
		return err
	}
	if req.Email, err = cb.prompt.ReadLine("Email: "); err != nil {
		return err
	}
	if req.FullName, err = cb.prompt.ReadLine("Full name (optional): "); err != nil {
		return err
	}
	if req.Password, err = cb.prompt.ReadPassword("Password: "); err != nil {
		return err
	}
	req.FullName = strings.TrimSpace(req.FullName)

	if err := cb.Register(ctx, req); err != nil {
		return err
	}
	fmt.Fprintln(cb.out, "Account created! Please log in with /login.")
	return nil
}

func displayName(u *session.User) string {
	if u == nil {
		return "there"
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// handleCommand handles slash commands; it reports whether to quit
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/login":
		username := ""
		if len(parts) > 1 {
			username = parts[1]
		}
		if err := cb.PromptLogin(ctx, username); err != nil {
			return false, err
		}
		cb.enterView(guard.ViewDashboard)
		return false, nil

	case "/register":
		return false, cb.PromptRegister(ctx)

	case "/logout":
		cb.Logout()
		fmt.Fprintln(cb.out, "Logged out successfully.")
		cb.enterView(guard.ViewLanding)
		return false, nil

	case "/whoami":
		fmt.Fprintln(cb.out, cb.WhoAmI())
		return false, nil

	case "/clear":
		cb.conversation.Clear()
		fmt.Fprintln(cb.out, "Conversation cleared.")
		return false, nil

	case "/history":
		msgs := cb.conversation.Messages()
		if len(msgs) == 0 {
			fmt.Fprintln(cb.out, "No messages yet.")
			return false, nil
		}
		for _, m := range msgs {
			fmt.Fprintf(cb.out, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), m.Role, firstLine(m.Content))
		}
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /login [username]  - Log in")
		fmt.Fprintln(cb.out, "  /register          - Create an account")
		fmt.Fprintln(cb.out, "  /logout            - Log out and clear the conversation")
		fmt.Fprintln(cb.out, "  /whoami            - Show the current account")
		fmt.Fprintln(cb.out, "  /history           - List messages in this conversation")
		fmt.Fprintln(cb.out, "  /clear             - Clear the conversation")
		fmt.Fprintln(cb.out, "  /quit, /exit       - Exit")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// enterView prints the header of the view the guard lets us reach
func (cb *ChatBot) enterView(want guard.View) guard.View {
	view := cb.guard.Resolve(want)
	switch view {
	case guard.ViewDashboard:
		fmt.Fprintln(cb.out)
		fmt.Fprintln(cb.out, Banner)
		fmt.Fprintln(cb.out)
		fmt.Fprintf(cb.out, "Ask a health question, %s. Type /help for commands.\n", displayName(cb.store.User()))
	case guard.ViewLogin:
		fmt.Fprintln(cb.out, "Please log in (/login) or create an account (/register).")
	default:
		fmt.Fprintln(cb.out, "Log in with /login or create an account with /register.")
	}
	return view
}

// Run starts the interactive chat
func (cb *ChatBot) Run(ctx context.Context) error {
	fmt.Fprintln(cb.out, "=== MedChat ===")
	fmt.Fprintf(cb.out, "API: %s\n", cb.client.BaseURL())
	if cb.enterView(guard.ViewDashboard) == guard.ViewLogin {
		quit, err := cb.startLogin(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if quit || err != nil {
			fmt.Fprintln(cb.out, "Goodbye!")
			return nil
		}
	}

	for {
		input, err := cb.prompt.ReadLine("You: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.printError(err)
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		reply, err := cb.Send(ctx, input)
		if err != nil {
			cb.printError(err)
			var unauthorized *api.UnauthorizedError
			if errors.As(err, &unauthorized) || errors.Is(err, ErrNotLoggedIn) {
				cb.enterView(guard.ViewDashboard)
			}
			continue
		}

		cb.printReply(reply)
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}

// startLogin runs the login view: it asks for a username right away, but a
// slash command typed instead is handled as usual and an empty line skips
// to the prompt loop. It reports whether to quit.
func (cb *ChatBot) startLogin(ctx context.Context) (bool, error) {
	username, err := cb.prompt.ReadLine("Username (Enter to skip): ")
	if err != nil {
		return false, err
	}
	username = strings.TrimSpace(username)

	switch {
	case username == "":
		return false, nil
	case strings.HasPrefix(username, "/"):
		quit, err := cb.handleCommand(ctx, username)
		if err != nil {
			cb.printError(err)
			cb.logger.Error("command error", "error", err)
		}
		return quit, nil
	}

	if err := cb.PromptLogin(ctx, username); err != nil {
		if errors.Is(err, io.EOF) {
			return false, err
		}
		cb.printError(err)
		return false, nil
	}
	cb.enterView(guard.ViewDashboard)
	return false, nil
}

func (cb *ChatBot) printReply(reply string) {
	rendered, err := cb.renderer.Render(reply)
	if err != nil {
		cb.logger.Warn("failed to render reply", "error", err)
		rendered = reply
	}
	fmt.Fprintf(cb.out, "Assistant:\n%s\n\n", strings.TrimRight(rendered, "\n"))
}

func (cb *ChatBot) printError(err error) {
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrNotLoggedIn), errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrInvalidCredentials):
		fmt.Fprintf(cb.out, "Error: %v\n", err)
	default:
		fmt.Fprintf(cb.out, "Error: %s\n", api.UserMessage(err))
	}
}
