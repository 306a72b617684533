package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/node"
	sm "github.com/roundstep/roundstep/state"
)

// MakeStartCommand constructs a command that runs the node until the process
// receives a termination signal.
func MakeStartCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the roundstep node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.New(logger, conf, sm.NoopApplication{}, nil)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			<-cmd.Context().Done()
			n.Wait()
			return nil
		},
	}
}
