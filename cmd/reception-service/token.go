package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"clinic/reception-service/internal/auth"
)

// newTokenCommand signs a bearer token for local testing; production tokens
// come from the identity service sharing the same secret.
func newTokenCommand() *cobra.Command {
	var userID, role, tenantID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := initEnv()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required")
			}
			token, err := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Issue(userID, role, tenantID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (token subject)")
	cmd.Flags().StringVar(&role, "role", "", "Role: SuperAdmin, ClinicOwner, ClinicManager, Doctor or Patient")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
