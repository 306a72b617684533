package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/creachadair/atomicfile"
	"github.com/creachadair/tomledit"
	"github.com/creachadair/tomledit/parser"
	"github.com/creachadair/tomledit/transform"
)

// upgradePlan is the sequence of transformation steps that converts a config
// file written under an older config grammar to the current one, applied in
// order. Edits preserve the file's comments and layout; only the named keys
// are touched.
var upgradePlan = transform.Plan{
	{
		// Early releases wrote snake_case keys.
		Desc: "Rename everything from snake_case to kebab-case",
		T:    transform.SnakeToKebab(),
	},
	{
		Desc:    "Remove vestigial consensus.timeout-commit-delta setting",
		T:       transform.Remove(parser.Key{"consensus", "timeout-commit-delta"}),
		ErrorOK: true,
	},
	{
		Desc: "Add consensus.skip-timeout-commit setting",
		T: transform.EnsureKey(parser.Key{"consensus"}, &parser.KeyValue{
			Block: parser.Comments{"Make progress as soon as we have all the precommits (as if TimeoutCommit = 0)"},
			Name:  parser.Key{"skip-timeout-commit"},
			Value: parser.MustValue("false"),
		}),
		ErrorOK: true,
	},
	{
		Desc: `Add top-level log-format setting (default "plain")`,
		T: transform.EnsureKey(nil, &parser.KeyValue{
			Block: parser.Comments{"Output format: 'plain' (colored text) or 'json'"},
			Name:  parser.Key{"log-format"},
			Value: parser.MustValue(`"plain"`),
		}),
		ErrorOK: true,
	},
}

// Upgrade reads the TOML config file at configPath, applies the upgrade
// plan, and writes the result to outputPath (which may equal configPath).
// The output is written atomically.
func Upgrade(ctx context.Context, configPath, outputPath string) error {
	if configPath == "" {
		return errors.New("empty input configuration path")
	}

	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	doc, err := tomledit.Parse(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := upgradePlan.Apply(ctx, doc); err != nil {
		return fmt.Errorf("upgrading config: %w", err)
	}

	var buf bytes.Buffer
	if err := tomledit.Format(&buf, doc); err != nil {
		return fmt.Errorf("formatting config: %w", err)
	}

	if outputPath == "" {
		_, err = os.Stdout.Write(buf.Bytes())
	} else {
		_, err = atomicfile.WriteAll(outputPath, &buf, 0600)
	}
	return err
}
