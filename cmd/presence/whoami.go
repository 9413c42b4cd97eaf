package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/christopherjohns/filepresence/internal/identity"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the user announced to the presence server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			u := identity.NewUser(cmd.Context(), store, cfg.Name, cfg.Avatar)
			data, err := json.MarshalIndent(u, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
