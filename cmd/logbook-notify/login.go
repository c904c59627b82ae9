package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/logbook-notify/internal/api"
	"github.com/nhle/logbook-notify/internal/model"
	"github.com/nhle/logbook-notify/internal/ui/login"
)

const requestTimeout = 15 * time.Second

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		cfg, err := model.LoadConfig(path)
		if err != nil {
			return err
		}

		fields := &login.Fields{
			BaseURL:   cfg.Server.BaseURL,
			SocketURL: cfg.Server.SocketURL,
			Token:     loginToken,
		}
		if loginToken == "" {
			if err := login.NewForm(fields).RunWithContext(cmd.Context()); err != nil {
				return fmt.Errorf("login cancelled: %w", err)
			}
		}
		fields.Normalize()
		if fields.Token == "" {
			return errors.New("a session token is required")
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		client := api.NewClient(fields.BaseURL, api.StaticToken(fields.Token))
		if err := client.ValidateToken(ctx); err != nil {
			if api.IsAuthError(err) {
				return errors.New("the server rejected this token")
			}
			return fmt.Errorf("checking token: %w", err)
		}

		creds, err := openCredentials()
		if err != nil {
			return err
		}
		if err := creds.SetToken(fields.Token); err != nil {
			return err
		}

		cfg.Server.BaseURL = fields.BaseURL
		cfg.Server.SocketURL = fields.SocketURL
		if err := model.SaveConfig(path, cfg); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Signed in. Run `logbook-notify` to open your notifications.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "session token (skips the interactive form)")
	rootCmd.AddCommand(loginCmd)
}
