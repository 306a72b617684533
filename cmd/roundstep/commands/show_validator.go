package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/internal/jsontypes"
	"github.com/roundstep/roundstep/libs/log"
	tmos "github.com/roundstep/roundstep/libs/os"
	"github.com/roundstep/roundstep/privval"
)

// MakeShowValidatorCommand constructs a command to show the validator public
// key of this node.
func MakeShowValidatorCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show-validator",
		Short: "Show this node's validator public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyFilePath := conf.PrivValidatorKeyFile()
			if !tmos.FileExists(keyFilePath) {
				return fmt.Errorf("private validator file %s does not exist", keyFilePath)
			}

			pv, err := privval.LoadFilePV(keyFilePath, conf.PrivValidatorStateFile())
			if err != nil {
				return err
			}

			pubKey, err := pv.GetPubKey()
			if err != nil {
				return fmt.Errorf("can't get pubkey: %w", err)
			}

			bz, err := jsontypes.Marshal(pubKey)
			if err != nil {
				return fmt.Errorf("failed to marshal private validator pubkey: %w", err)
			}

			fmt.Println(string(bz))
			return nil
		},
	}
}
