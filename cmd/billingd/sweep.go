package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire cancelled subscriptions whose period has ended, once",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		log := newLogger(s.App)

		a, err := newApp(cmd.Context(), s, log, false)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.billing.ExpireCancelled(cmd.Context())
		if err != nil {
			return err
		}
		log.InfoContext(cmd.Context(), "sweep finished", slog.Int("expired", n))
		return nil
	},
}
