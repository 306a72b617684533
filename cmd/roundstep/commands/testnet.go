package commands

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mroth/weightedrand"
	"github.com/spf13/cobra"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/crypto/ed25519"
	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/privval"
	"github.com/roundstep/roundstep/types"
)

const nodeDirPerm = 0755

// testnetManifest describes a testnet in a TOML file, as an alternative to
// generating one from flags alone.
type testnetManifest struct {
	// ChainID names the chain. Defaults to a randomly suffixed id.
	ChainID string `toml:"chain_id"`

	// InitialHeight is the height the chain starts at. Defaults to 1.
	InitialHeight int64 `toml:"initial_height"`

	// KeyType is the validator key type, ed25519 or secp256k1.
	KeyType string `toml:"key_type"`

	// Validators maps node directory names to voting power:
	//
	//   [validators]
	//   node0 = 10
	//   node1 = 20
	Validators map[string]int64 `toml:"validators"`
}

func loadTestnetManifest(path string) (*testnetManifest, error) {
	manifest := &testnetManifest{}
	if _, err := toml.DecodeFile(path, manifest); err != nil {
		return nil, fmt.Errorf("failed to load testnet manifest %q: %w", path, err)
	}
	if len(manifest.Validators) == 0 {
		return nil, fmt.Errorf("testnet manifest %q names no validators", path)
	}
	for name, power := range manifest.Validators {
		if power <= 0 {
			return nil, fmt.Errorf("validator %q has non-positive power %d", name, power)
		}
	}
	return manifest, nil
}

// powerChooser draws voting power for generated validators. Most get a
// baseline weight so no single node dominates a small testnet.
func powerChooser() (*weightedrand.Chooser, error) {
	return weightedrand.NewChooser(
		weightedrand.NewChoice(int64(10), 6),
		weightedrand.NewChoice(int64(50), 3),
		weightedrand.NewChoice(int64(100), 1),
	)
}

// MakeTestnetFilesCommand constructs a command that generates the home
// directories for a local testnet: one per validator, each with its own key
// material and config, all sharing a genesis file.
func MakeTestnetFilesCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	var (
		nValidators   int
		outputDir     string
		nodeDirPrefix string
		chainID       string
		keyType       string
		manifestPath  string
		randomPower   bool
	)

	cmd := &cobra.Command{
		Use:   "testnet",
		Short: "Initialize files for a roundstep testnet",
		Long: `testnet creates one directory per validator and populates each with
the necessary files (private validator, genesis, config).

The validator set is either generated from the --v flag or read from a TOML
manifest naming each validator and its voting power.

Example:

	roundstep testnet --v 4 --o ./output`,
		RunE: func(cmd *cobra.Command, args []string) error {
			type nodeSpec struct {
				name  string
				power int64
			}
			var (
				specs         []nodeSpec
				initialHeight int64 = 1
			)

			switch {
			case manifestPath != "":
				manifest, err := loadTestnetManifest(manifestPath)
				if err != nil {
					return err
				}
				if manifest.ChainID != "" {
					chainID = manifest.ChainID
				}
				if manifest.InitialHeight > 0 {
					initialHeight = manifest.InitialHeight
				}
				if manifest.KeyType != "" {
					keyType = manifest.KeyType
				}
				for name, power := range manifest.Validators {
					specs = append(specs, nodeSpec{name: name, power: power})
				}
				sort.Slice(specs, func(i, j int) bool { return specs[i].name < specs[j].name })

			default:
				chooser, err := powerChooser()
				if err != nil {
					return err
				}
				r := rand.New(rand.NewSource(time.Now().UnixNano()))
				for i := 0; i < nValidators; i++ {
					power := int64(10)
					if randomPower {
						power = chooser.PickSource(r).(int64)
					}
					specs = append(specs, nodeSpec{
						name:  fmt.Sprintf("%s%d", nodeDirPrefix, i),
						power: power,
					})
				}
			}

			if chainID == "" {
				chainID = fmt.Sprintf("chain-%s", randomChainIDSuffix())
			}

			genVals := make([]types.GenesisValidator, len(specs))
			for i, spec := range specs {
				nodeDir := filepath.Join(outputDir, spec.name)
				nodeConf := config.DefaultConfig()
				nodeConf.SetRoot(nodeDir)
				nodeConf.Moniker = spec.name

				for _, dir := range []string{"config", "data"} {
					if err := os.MkdirAll(filepath.Join(nodeDir, dir), nodeDirPerm); err != nil {
						_ = os.RemoveAll(outputDir)
						return err
					}
				}

				pv, err := privval.GenFilePV(
					nodeConf.PrivValidatorKeyFile(),
					nodeConf.PrivValidatorStateFile(),
					keyType,
				)
				if err != nil {
					_ = os.RemoveAll(outputDir)
					return err
				}
				if err := pv.Save(); err != nil {
					_ = os.RemoveAll(outputDir)
					return err
				}

				pubKey, err := pv.GetPubKey()
				if err != nil {
					_ = os.RemoveAll(outputDir)
					return fmt.Errorf("can't get pubkey: %w", err)
				}
				genVals[i] = types.GenesisValidator{
					Address: pubKey.Address(),
					PubKey:  pubKey,
					Power:   spec.power,
					Name:    spec.name,
				}

				if err := config.WriteConfigFile(nodeDir, nodeConf); err != nil {
					_ = os.RemoveAll(outputDir)
					return err
				}
			}

			genDoc := &types.GenesisDoc{
				ChainID:       chainID,
				GenesisTime:   time.Now().Round(0).UTC(),
				InitialHeight: initialHeight,
				Validators:    genVals,
			}
			for _, spec := range specs {
				nodeDir := filepath.Join(outputDir, spec.name)
				if err := genDoc.SaveAs(filepath.Join(nodeDir, "config", "genesis.json")); err != nil {
					_ = os.RemoveAll(outputDir)
					return err
				}
			}

			logger.Info("generated testnet",
				"validators", len(specs), "chain_id", chainID, "dir", outputDir)
			return nil
		},
	}

	cmd.Flags().IntVar(&nValidators, "v", 4,
		"number of validators to initialize the testnet with")
	cmd.Flags().StringVar(&outputDir, "o", "./mytestnet",
		"directory to store initialization data for the testnet")
	cmd.Flags().StringVar(&nodeDirPrefix, "node-dir-prefix", "node",
		"prefix for the directory name of each node (node results in node0, node1, ...)")
	cmd.Flags().StringVar(&chainID, "chain-id", "",
		"chain id for the testnet (defaults to a random one)")
	cmd.Flags().StringVar(&keyType, "key-type", ed25519.KeyType,
		"validator key type (ed25519 | secp256k1)")
	cmd.Flags().StringVar(&manifestPath, "manifest", "",
		"TOML manifest describing the validator set (overrides --v)")
	cmd.Flags().BoolVar(&randomPower, "random-power", false,
		"draw each validator's voting power from a weighted distribution instead of a flat 10")

	return cmd
}
