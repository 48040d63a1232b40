package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginPassword string
)

// loginCmd authenticates against the backend and stores the token.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Login to the backend server",
	Run:   login,
}

func init() {
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "Username")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password")
}

// login exchanges credentials for a token and persists it.
func login(cmd *cobra.Command, args []string) {
	if cfg.Server.BaseURL == "" {
		fmt.Println("Error: Server URL is required")
		os.Exit(1)
	}

	if loginUsername == "" {
		fmt.Print("Username: ")
		fmt.Scanln(&loginUsername)
	}

	if loginPassword == "" {
		fmt.Print("Password: ")
		fmt.Scanln(&loginPassword)
	}

	backend := newClient()

	token, err := backend.Login(context.Background(), loginUsername, loginPassword)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Save token to config
	cfg.Server.Token = token
	saveCLIConfig()

	fmt.Println("Login successful")
}
