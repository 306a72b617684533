package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roundstep/roundstep/cmd/roundstep/commands"
	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/libs/cli"
	"github.com/roundstep/roundstep/libs/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	conf := config.DefaultConfig()
	logger := log.MustNewDefaultLogger(conf.LogFormat, conf.LogLevel)

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitFilesCommand(conf, logger),
		commands.MakeGenValidatorCommand(),
		commands.MakeShowValidatorCommand(conf, logger),
		commands.MakeStartCommand(conf, logger),
		commands.MakeResetCommand(conf, logger),
		commands.MakeTestnetFilesCommand(conf, logger),
		commands.MakeSimulateCommand(logger),
		commands.MakeConfigUpgradeCommand(conf),
		commands.VersionCmd,
	)

	if err := cli.RunWithTrace(ctx, rcmd); err != nil {
		os.Exit(2)
	}
}
