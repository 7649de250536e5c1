/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdauth/apiserver/config"
	"github.com/jdauth/apiserver/internal/db"
	"github.com/jdauth/apiserver/internal/security"
	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

// seedCmd creates the initial admin account so a fresh deployment has a way
// to reach the admin endpoints.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the initial admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		username := os.Getenv("ADMIN_USERNAME")
		password := os.Getenv("ADMIN_PASSWORD")
		if username == "" || password == "" {
			return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD are required")
		}

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = dbConn.Close()
		}()

		repo := store.NewUserRepository(dbConn)
		if _, err := repo.GetByUsername(cmd.Context(), username); err == nil {
			fmt.Printf("admin %q already exists, nothing to do\n", username)
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		hasher := security.NewHasher(cfg.Auth.BcryptCost)
		hash, err := hasher.Hash(password)
		if err != nil {
			return err
		}

		user, err := repo.Create(cmd.Context(), types.User{
			Username:     username,
			Role:         types.RoleAdmin,
			IsActive:     true,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}

		fmt.Printf("created admin %q (id %d)\n", user.Username, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
