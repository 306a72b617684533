package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roundstep/roundstep/crypto/ed25519"
	"github.com/roundstep/roundstep/privval"
)

// MakeGenValidatorCommand returns a command that generates a fresh validator
// keypair and prints it as JSON to stdout. Nothing is written to disk.
func MakeGenValidatorCommand() *cobra.Command {
	var keyType string

	cmd := &cobra.Command{
		Use:   "gen-validator",
		Short: "Generate a new validator keypair and print it to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			pv, err := privval.GenFilePV("", "", keyType)
			if err != nil {
				return err
			}

			jsbz, err := json.MarshalIndent(pv.Key, "", "  ")
			if err != nil {
				return fmt.Errorf("validator -> json: %w", err)
			}
			fmt.Println(string(jsbz))
			return nil
		},
	}

	cmd.Flags().StringVar(&keyType, "key-type", ed25519.KeyType,
		"validator key type (ed25519 | secp256k1)")

	return cmd
}
