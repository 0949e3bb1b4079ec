package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/quill-server/internal/app"
	"github.com/vovakirdan/quill-server/internal/auth"
	"github.com/vovakirdan/quill-server/internal/store/sqlite"
)

func init() {
	tokenCmd.Flags().Int64("user-id", 0, "user to issue the token for")
	_ = tokenCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a JWT for an existing user",
	Long:  "Issue a JWT for an existing user, signed with the configured secret. Useful for local testing of the WebSocket handshake.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		userID, _ := cmd.Flags().GetInt64("user-id")

		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		token, err := auth.NewService(st, app.JWTConfig(cfg)).IssueToken(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
