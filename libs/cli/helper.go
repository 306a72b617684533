package cli

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunWithTrace executes the command with the given context and prints the
// resulting error to stderr. With the trace flag set it also dumps a stack
// trace.
func RunWithTrace(ctx context.Context, cmd *cobra.Command) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		if viper.GetBool(TraceFlag) {
			fmt.Fprint(os.Stderr, string(debug.Stack()))
		}
		return err
	}
	return nil
}
