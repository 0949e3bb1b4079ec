package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/quill-server/internal/client"
	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/log"
	"github.com/vovakirdan/quill-server/internal/proto"
)

func init() {
	chatCmd.Flags().String("server", "http://localhost:8080", "server base URL")
	chatCmd.Flags().String("username", "", "account to log in as")
	chatCmd.Flags().String("password", "", "account password")
	chatCmd.Flags().Int64("to", 0, "user id to chat with")
	_ = chatCmd.MarkFlagRequired("username")
	_ = chatCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive direct-message client",
	Long: `Log in, open a relay connection and exchange direct messages with one
peer. Lines typed on stdin are sent; the connection reconnects on its own
and sends fall back to REST while it is down.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	server, _ := cmd.Flags().GetString("server")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	peerID, _ := cmd.Flags().GetInt64("to")

	// Logs go to stderr so they do not interleave with the conversation.
	logger := log.NewWithWriter(cfg.LogLevel, os.Stderr)
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rest := client.NewREST(server, "", nil)
	userID, err := rest.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	relay := client.New(client.Options{
		URL:               wsURL(server),
		Token:             rest.Token(),
		ReconnectInterval: cfg.ReconnectInterval,
		AckTimeout:        cfg.AckTimeout,
		Logger:            logger,
	})
	if err := relay.Connect(ctx); err != nil {
		// Not fatal: sends use REST until a reconnect succeeds.
		logger.Warn().Err(err).Msg("relay unavailable, using rest")
	}
	defer relay.Disconnect()

	inbox := client.NewInbox(userID)
	history, err := rest.ListMessages(ctx, peerID, 50, 0)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	inbox.Merge(history)
	for _, m := range inbox.Thread(peerID) {
		printMessage(out, userID, m)
	}
	if _, err := rest.MarkConversationRead(ctx, peerID); err != nil {
		logger.Debug().Err(err).Msg("mark read failed")
	}
	if st, err := rest.Status(ctx, peerID); err == nil {
		fmt.Fprintf(out, "-- user %d is %s (last active %s)\n", peerID, st.Status, st.LastActive)
	}

	messenger := client.NewMessenger(relay, rest, logger)
	typing := client.NewTypingNotifier(relay, peerID, cfg.TypingIdle, nil, logger)
	defer typing.Leave()

	go printEvents(ctx, out, relay, inbox, userID, peerID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintf(out, "-- chatting with user %d as %s, Ctrl+C to exit\n", peerID, username)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			typing.Keystroke()
			msg, err := messenger.Send(ctx, client.Draft{To: peerID, Content: text})
			typing.Sent()
			if err != nil {
				var rejected *client.RejectedError
				var apiErr *client.APIError
				switch {
				case errors.As(err, &rejected):
					fmt.Fprintf(out, "!! not sent: %s\n", rejected.Msg)
				case errors.As(err, &apiErr):
					fmt.Fprintf(out, "!! not sent: %s\n", apiErr.Message)
				default:
					fmt.Fprintf(out, "!! not sent: %v\n", err)
				}
				continue
			}
			if inbox.Add(*msg) {
				printMessage(out, userID, *msg)
			}
		}
	}
}

func printEvents(ctx context.Context, out io.Writer, relay *client.Client, inbox *client.Inbox, self, peerID int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-relay.Events():
			switch ev.Event {
			case core.EventNameNewMessage:
				var m proto.EventNewMessage
				if err := ev.Decode(&m); err != nil {
					continue
				}
				inThread := m.SenderID == peerID || m.ReceiverID == peerID
				if inThread && inbox.Add(m.Message) {
					printMessage(out, self, m.Message)
				}
			case core.EventNameTyping:
				var t proto.EventTyping
				if err := ev.Decode(&t); err == nil && t.From == peerID && t.IsTyping {
					fmt.Fprintf(out, "-- user %d is typing\n", peerID)
				}
			case core.EventNameMessageDeleted:
				var d proto.EventMessageDeleted
				if err := ev.Decode(&d); err == nil {
					inbox.Remove(d.MessageID)
					fmt.Fprintf(out, "-- message %d deleted\n", d.MessageID)
				}
			case core.EventNameConversationDeleted:
				inbox.DropConversation(peerID)
				fmt.Fprintln(out, "-- conversation deleted")
			}
		}
	}
}

func printMessage(out io.Writer, self int64, m proto.Message) {
	who := fmt.Sprintf("user %d", m.SenderID)
	if m.SenderID == self {
		who = "you"
	}
	when := humanize.Time(m.CreatedAt)
	if m.CreatedAt.IsZero() {
		when = time.Now().Format(time.Kitchen)
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", when, who, m.Content)
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}
