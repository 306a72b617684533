package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/crypto/ed25519"
	"github.com/roundstep/roundstep/libs/log"
	tmos "github.com/roundstep/roundstep/libs/os"
	"github.com/roundstep/roundstep/privval"
)

// MakeResetCommand constructs a command tree that removes persisted data of
// a roundstep node.
func MakeResetCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	var keyType string

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Set of commands to conveniently reset roundstep data",
	}

	resetBlocksCmd := &cobra.Command{
		Use:   "blockchain",
		Short: "Removes all blocks and state stored by this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ResetState(conf.DBDir(), logger)
		},
	}

	resetSignerCmd := &cobra.Command{
		Use:   "unsafe-signer",
		Short: "Resets private validator signer state",
		Long: `Resets private validator signer state.
Only use in testing. This can cause the node to double sign.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ResetFilePV(conf.PrivValidatorKeyFile(), conf.PrivValidatorStateFile(), logger, keyType)
		},
	}

	resetAllCmd := &cobra.Command{
		Use:   "unsafe-all",
		Short: "Removes all roundstep data including signing state",
		Long: `Removes all roundstep data including signing state.
Only use in testing. This can cause the node to double sign.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ResetAll(conf.DBDir(), conf.PrivValidatorKeyFile(),
				conf.PrivValidatorStateFile(), logger, keyType)
		},
	}

	resetSignerCmd.Flags().StringVar(&keyType, "key-type", ed25519.KeyType,
		"validator key type (ed25519 | secp256k1)")
	resetAllCmd.Flags().StringVar(&keyType, "key-type", ed25519.KeyType,
		"validator key type (ed25519 | secp256k1)")

	resetCmd.AddCommand(resetBlocksCmd)
	resetCmd.AddCommand(resetSignerCmd)
	resetCmd.AddCommand(resetAllCmd)

	return resetCmd
}

// ResetAll removes all stored data and resets the private validator signing
// state. Unsafe outside of testing: the node may double sign afterwards.
func ResetAll(dbDir, privValKeyFile, privValStateFile string, logger log.Logger, keyType string) error {
	if err := ResetState(dbDir, logger); err != nil {
		return err
	}
	return ResetFilePV(privValKeyFile, privValStateFile, logger, keyType)
}

// ResetState removes the block store and state databases.
func ResetState(dbDir string, logger log.Logger) error {
	if err := os.RemoveAll(dbDir); err != nil {
		logger.Error("error removing data directory", "dir", dbDir, "err", err)
		return err
	}
	logger.Info("removed all stored data", "dir", dbDir)
	return tmos.EnsureDir(dbDir, config.DefaultDirPerm)
}

// ResetFilePV resets the private validator signing watermark to zero,
// generating a fresh key if none exists. Unsafe outside of testing: used on
// a live network this can cause the node to double sign.
func ResetFilePV(privValKeyFile, privValStateFile string, logger log.Logger, keyType string) error {
	if _, err := os.Stat(privValKeyFile); err == nil {
		pv, err := privval.LoadFilePVEmptyState(privValKeyFile, privValStateFile)
		if err != nil {
			return err
		}
		if err := pv.Reset(); err != nil {
			return err
		}
		logger.Info("reset private validator file to genesis state",
			"key_file", privValKeyFile, "state_file", privValStateFile)
		return nil
	}

	pv, err := privval.GenFilePV(privValKeyFile, privValStateFile, keyType)
	if err != nil {
		return err
	}
	if err := pv.Save(); err != nil {
		return err
	}
	logger.Info("generated private validator file",
		"key_file", privValKeyFile, "state_file", privValStateFile)
	return nil
}
