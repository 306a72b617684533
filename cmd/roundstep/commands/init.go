package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/crypto/ed25519"
	"github.com/roundstep/roundstep/libs/log"
	tmos "github.com/roundstep/roundstep/libs/os"
	"github.com/roundstep/roundstep/privval"
	"github.com/roundstep/roundstep/types"
)

// MakeInitFilesCommand returns the command to initialize a node home
// directory: a fresh validator key, a single-validator genesis and a default
// config file.
func MakeInitFilesCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	var keyType string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a roundstep node home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initFilesWithConfig(conf, logger, keyType)
		},
	}

	cmd.Flags().StringVar(&keyType, "key-type", ed25519.KeyType,
		"validator key type (ed25519 | secp256k1)")

	return cmd
}

func initFilesWithConfig(conf *config.Config, logger log.Logger, keyType string) error {
	// private validator
	privValKeyFile := conf.PrivValidatorKeyFile()
	privValStateFile := conf.PrivValidatorStateFile()

	var (
		pv  *privval.FilePV
		err error
	)
	if tmos.FileExists(privValKeyFile) {
		pv, err = privval.LoadFilePV(privValKeyFile, privValStateFile)
		if err != nil {
			return err
		}
		logger.Info("found private validator",
			"key_file", privValKeyFile, "state_file", privValStateFile)
	} else {
		pv, err = privval.GenFilePV(privValKeyFile, privValStateFile, keyType)
		if err != nil {
			return err
		}
		if err := pv.Save(); err != nil {
			return err
		}
		logger.Info("generated private validator",
			"key_file", privValKeyFile, "state_file", privValStateFile)
	}

	// genesis file
	genFile := conf.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("found genesis file", "path", genFile)
	} else {
		pubKey, err := pv.GetPubKey()
		if err != nil {
			return fmt.Errorf("can't get pubkey: %w", err)
		}

		genDoc := types.GenesisDoc{
			ChainID:       fmt.Sprintf("chain-%s", randomChainIDSuffix()),
			GenesisTime:   time.Now().Round(0).UTC(),
			InitialHeight: 1,
			Validators: []types.GenesisValidator{{
				Address: pubKey.Address(),
				PubKey:  pubKey,
				Power:   10,
			}},
		}
		if err := genDoc.SaveAs(genFile); err != nil {
			return err
		}
		logger.Info("generated genesis file", "path", genFile)
	}

	// config file
	configFile := conf.ConfigFile()
	if tmos.FileExists(configFile) {
		logger.Info("found config file", "path", configFile)
	} else {
		if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
			return err
		}
		logger.Info("generated config file", "path", configFile)
	}

	return nil
}
