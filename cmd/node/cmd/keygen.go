package cmd

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const keySize = 32

var keygenKeysPath string

var keygenCmd = &cobra.Command{
	Use:   "keygen [address]",
	Short: "Generate key material for an account and write it to a .key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address := args[0]

		key := make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generating key material: %w", err)
		}

		if err := os.MkdirAll(keygenKeysPath, 0o755); err != nil {
			return fmt.Errorf("creating keys directory: %w", err)
		}

		path := filepath.Join(keygenKeysPath, address+".key")
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}

		fmt.Println(path)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenKeysPath, "keys-path", "zblock/keys/", "directory to write the generated .key file into")
	rootCmd.AddCommand(keygenCmd)
}
