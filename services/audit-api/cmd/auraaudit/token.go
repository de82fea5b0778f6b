package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"auraaudit/pkg/auth"
)

func newTokenCmd(root *rootFlags) *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token with the configured private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return exitError(2, "configuration: %v", err)
			}
			if cfg.Auth.PrivateKeyPEM == "" {
				return exitError(2, "auth.private_key_pem is required to mint tokens")
			}
			jm, err := auth.NewJWTManager(auth.JWTConfig{
				PrivateKeyPEM: cfg.Auth.PrivateKeyPEM,
				PublicKeyPEM:  cfg.Auth.PublicKeyPEM,
				TokenTTL:      cfg.Auth.TokenTTL,
				Issuer:        cfg.Auth.Issuer,
			})
			if err != nil {
				return err
			}
			token, exp, err := jm.GenerateToken(userID, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to put in the token")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
