package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/consensus"
	"github.com/roundstep/roundstep/crypto/ed25519"
	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/node"
	"github.com/roundstep/roundstep/privval"
	sm "github.com/roundstep/roundstep/state"
	"github.com/roundstep/roundstep/types"
)

// MakeSimulateCommand constructs a command that runs an in-process network
// of validators until the chain reaches a target height. Useful for
// exercising the consensus engine without any deployment.
func MakeSimulateCommand(logger log.Logger) *cobra.Command {
	var (
		nValidators  int
		targetHeight int64
		chainID      string
		rootDir      string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-process validator network until a target height",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nValidators < 1 {
				return fmt.Errorf("need at least one validator, got %d", nValidators)
			}
			if targetHeight < 1 {
				return fmt.Errorf("target height must be positive, got %d", targetHeight)
			}

			if rootDir == "" {
				dir, err := os.MkdirTemp("", "roundstep-simulate-*")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				rootDir = dir
			}
			if chainID == "" {
				chainID = fmt.Sprintf("simulate-%s", randomChainIDSuffix())
			}

			confs := make([]*config.Config, nValidators)
			genVals := make([]types.GenesisValidator, nValidators)
			for i := 0; i < nValidators; i++ {
				moniker := fmt.Sprintf("node%d", i)
				conf := config.TestConfig()
				conf.SetRoot(filepath.Join(rootDir, moniker))
				conf.Moniker = moniker
				config.EnsureRoot(conf.RootDir)

				pv, err := privval.GenFilePV(
					conf.PrivValidatorKeyFile(), conf.PrivValidatorStateFile(), ed25519.KeyType)
				if err != nil {
					return err
				}
				if err := pv.Save(); err != nil {
					return err
				}
				pubKey, err := pv.GetPubKey()
				if err != nil {
					return err
				}

				confs[i] = conf
				genVals[i] = types.GenesisValidator{
					Address: pubKey.Address(),
					PubKey:  pubKey,
					Power:   1,
					Name:    moniker,
				}
			}

			genDoc := &types.GenesisDoc{
				ChainID:     chainID,
				GenesisTime: time.Now().Round(0).UTC(),
				Validators:  genVals,
			}
			for _, conf := range confs {
				if err := genDoc.SaveAs(conf.GenesisFile()); err != nil {
					return err
				}
			}

			network := consensus.NewLocalNetwork(logger.With("module", "network"))
			defer network.Close()

			nodes := make([]*node.Node, nValidators)
			for i, conf := range confs {
				n, err := node.New(logger.With("node", conf.Moniker), conf, sm.NoopApplication{}, nil)
				if err != nil {
					return err
				}
				n.Join(network)
				nodes[i] = n
			}

			start := time.Now()
			g, gctx := errgroup.WithContext(cmd.Context())
			for _, n := range nodes {
				n := n
				sub := n.EventBus().Subscribe(types.EventNewBlockValue, 64)
				if err := n.Start(gctx); err != nil {
					return err
				}
				g.Go(func() error {
					for {
						select {
						case msg := <-sub.Out():
							data, ok := msg.Data().(types.EventDataNewBlock)
							if ok && data.Block.Height >= targetHeight {
								return nil
							}
						case <-sub.Canceled():
							return fmt.Errorf("subscription terminated: %w", sub.Err())
						case <-gctx.Done():
							return gctx.Err()
						}
					}
				})
			}

			err := g.Wait()
			for _, n := range nodes {
				if n.IsRunning() {
					_ = n.Stop()
				}
			}
			if err != nil {
				return err
			}

			logger.Info("simulation complete",
				"validators", nValidators,
				"height", targetHeight,
				"elapsed", time.Since(start).String(),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&nValidators, "v", 4, "number of validators to simulate")
	cmd.Flags().Int64Var(&targetHeight, "height", 10, "height to run the network to")
	cmd.Flags().StringVar(&chainID, "chain-id", "", "chain id for the simulated network")
	cmd.Flags().StringVar(&rootDir, "dir", "", "working directory (defaults to a temp dir, removed afterwards)")

	return cmd
}
