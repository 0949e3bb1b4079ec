package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/quill-server/internal/client"
	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/proto"
)

func init() {
	smokeCmd.Flags().String("server", "http://localhost:8080", "server base URL")
	smokeCmd.Flags().String("from", "", "sending account as username:password")
	smokeCmd.Flags().String("to", "", "receiving account as username:password")
	smokeCmd.Flags().String("text", "hello from smoke test", "message text to send")
	smokeCmd.Flags().Duration("timeout", 5*time.Second, "total timeout for the run")
	_ = smokeCmd.MarkFlagRequired("from")
	_ = smokeCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(smokeCmd)
}

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Send one message between two accounts and wait for the relay",
	RunE: func(cmd *cobra.Command, _ []string) error {
		server, _ := cmd.Flags().GetString("server")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		text, _ := cmd.Flags().GetString("text")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		start := time.Now()
		msg, err := runSmoke(ctx, server, from, to, text)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: message %d relayed in %s\n", msg.ID, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func runSmoke(ctx context.Context, server, from, to, text string) (*proto.Message, error) {
	sender, _, err := smokeLogin(ctx, server, from)
	if err != nil {
		return nil, err
	}
	defer sender.Disconnect()

	receiver, receiverID, err := smokeLogin(ctx, server, to)
	if err != nil {
		return nil, err
	}
	defer receiver.Disconnect()

	sent, err := sender.SendMessage(ctx, client.Draft{To: receiverID, Content: text})
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for delivery: %w", ctx.Err())
		case out := <-receiver.Events():
			if out.Event != core.EventNameNewMessage {
				continue
			}
			var ev proto.EventNewMessage
			if err := out.Decode(&ev); err != nil {
				return nil, fmt.Errorf("decode delivery: %w", err)
			}
			if ev.ID == sent.ID {
				return &ev.Message, nil
			}
		}
	}
}

// smokeLogin logs in with "username:password" and opens a relay connection.
func smokeLogin(ctx context.Context, server, account string) (*client.Client, int64, error) {
	username, password, ok := strings.Cut(account, ":")
	if !ok || username == "" {
		return nil, 0, errors.New("account must be username:password")
	}

	rest := client.NewREST(server, "", nil)
	userID, err := rest.Login(ctx, username, password)
	if err != nil {
		return nil, 0, fmt.Errorf("login %s: %w", username, err)
	}

	c := client.New(client.Options{URL: wsURL(server), Token: rest.Token()})
	if err := c.Connect(ctx); err != nil {
		return nil, 0, fmt.Errorf("connect %s: %w", username, err)
	}
	return c, userID, nil
}
