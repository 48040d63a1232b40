package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tcmartin/flowcomposer/pkg/secrets"
)

// openVault opens the configured secret vault, prompting for the
// passphrase when it is not in the config or environment.
func openVault() *secrets.Vault {
	passphrase := cfg.Secrets.Passphrase
	if passphrase == "" {
		fmt.Print("Vault passphrase: ")
		fmt.Scanln(&passphrase)
	}

	vault, err := secrets.Open(vaultPath(), passphrase)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return vault
}

// listSecrets prints the keys stored in the vault.
func listSecrets(cmd *cobra.Command, args []string) {
	vault := openVault()

	keys := vault.List()
	if len(keys) == 0 {
		fmt.Println("No secrets found")
		return
	}

	fmt.Printf("Found %d secret(s):\n", len(keys))
	for _, key := range keys {
		fmt.Printf("  %s\n", key)
	}
}

// getSecret prints the decrypted value of one secret.
func getSecret(cmd *cobra.Command, args []string) {
	vault := openVault()

	value, err := vault.Get(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(value)
}

// setSecret stores an encrypted secret in the vault.
func setSecret(cmd *cobra.Command, args []string) {
	vault := openVault()

	if err := vault.Set(args[0], args[1]); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Secret '%s' set successfully\n", args[0])
}

// deleteSecret removes a secret after confirmation.
func deleteSecret(cmd *cobra.Command, args []string) {
	var confirm string
	fmt.Printf("Are you sure you want to delete secret '%s'? (y/N): ", args[0])
	fmt.Scanln(&confirm)
	if strings.ToLower(confirm) != "y" {
		fmt.Println("Deletion cancelled")
		return
	}

	vault := openVault()

	if err := vault.Delete(args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Secret '%s' deleted successfully\n", args[0])
}
