package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/logbook-notify/internal/model"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token and cached notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadConfig(configPath())
		if err != nil {
			return err
		}
		creds, err := openCredentials()
		if err != nil {
			return err
		}
		if err := creds.DeleteToken(); err != nil {
			return err
		}
		if err := purgeCache(cfg.Inbox.CachePath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
