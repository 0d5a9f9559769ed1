package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/locushq/locus/internal/auth"
	"github.com/locushq/locus/internal/config"
	"github.com/locushq/locus/pkg/models"
)

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Long: `Mint a JWT signed with the configured auth.jwt_secret, valid for
auth.token_expiry. Pass it as "Authorization: Bearer <token>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not set; the API runs unauthenticated")
			}
			svc := auth.NewService(auth.Config{
				JWTSecret:   cfg.Auth.JWTSecret,
				TokenExpiry: cfg.Auth.TokenExpiry,
			})
			token, err := svc.GenerateJWT(&models.User{ID: userID, Email: email})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&userID, "user", "local", "User ID to embed in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	return cmd
}
