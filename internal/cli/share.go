package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/config"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/core"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Encode or decode chat share links",
	}
	cmd.AddCommand(newShareDecodeCmd(), newShareEncodeCmd())
	return cmd
}

func newShareDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <blob|url>",
		Short: "Print the chat carried by a share link",
		Long: `Print the chat carried by a share link.

Examples:
  ahm-ai share decode 'http://127.0.0.1:8080/?chat=eyJ0aXRsZSI6...'
  ahm-ai share decode eyJ0aXRsZSI6...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat, err := core.DecodeShare(core.ShareBlob(args[0]))
			if err != nil {
				return err
			}
			printChat(cmd.OutOrStdout(), chat)
			return nil
		},
	}
}

func printChat(w io.Writer, chat core.SharedChat) {
	fmt.Fprintf(w, "# %s\n", chat.Title)
	for _, m := range chat.Messages {
		fmt.Fprintf(w, "\n[%s]\n%s\n", m.Role, m.Text)
	}
}

func newShareEncodeCmd() *cobra.Command {
	var (
		title    string
		messages []string
		baseURL  string
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a share link from messages",
		Long: `Build a share link from messages given as role:text.

Examples:
  ahm-ai share encode --title "Greeting" -m "user:hi" -m "model:hello!"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := parseMessages(messages)
			if err != nil {
				return err
			}
			blob, err := core.EncodeShare(title, msgs)
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = config.AppConfig.PublicBaseURL
			}
			fmt.Fprintln(cmd.OutOrStdout(), core.ShareURL(baseURL, blob))
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", core.DefaultSessionTitle, "chat title")
	cmd.Flags().StringArrayVarP(&messages, "message", "m", nil, "message as role:text (role is user or model), repeatable")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "link base URL (defaults to PUBLIC_BASE_URL)")
	return cmd
}

func parseMessages(raw []string) ([]store.Message, error) {
	msgs := make([]store.Message, 0, len(raw))
	for _, r := range raw {
		role, text, ok := strings.Cut(r, ":")
		role = strings.TrimSpace(role)
		if !ok || (role != store.RoleUser && role != store.RoleModel) {
			return nil, fmt.Errorf("invalid message %q: want user:text or model:text", r)
		}
		msgs = append(msgs, store.Message{Role: role, Text: text})
	}
	return msgs, nil
}
