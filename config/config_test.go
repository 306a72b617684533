package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	assert := assert.New(t)

	// set up some defaults
	cfg := DefaultConfig()
	assert.NotNil(cfg.Consensus)

	// check the root dir stuff...
	cfg.SetRoot("/foo")
	cfg.Genesis = "bar"
	cfg.DBPath = "/opt/data"

	assert.Equal("/foo/bar", cfg.GenesisFile())
	assert.Equal("/opt/data", cfg.DBDir())
}

func TestConfigValidateBasic(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.ValidateBasic())

	// tamper with timeout-propose
	cfg.Consensus.TimeoutPropose = -10 * time.Second
	assert.Error(t, cfg.ValidateBasic())
}

func TestBaseConfigValidateBasic(t *testing.T) {
	cfg := TestBaseConfig()
	require.NoError(t, cfg.ValidateBasic())

	// tamper with log format
	cfg.LogFormat = "invalid"
	require.Error(t, cfg.ValidateBasic())

	cfg = TestBaseConfig()
	cfg.DBBackend = "cloudb"
	require.Error(t, cfg.ValidateBasic())
}

func TestConsensusConfigTimeouts(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConsensusConfig()
	require.NoError(t, cfg.ValidateBasic())

	// timeouts grow linearly with the round number
	assert.Equal(cfg.TimeoutPropose, cfg.Propose(0))
	assert.Equal(
		cfg.TimeoutPropose+3*cfg.TimeoutProposeDelta,
		cfg.Propose(3))
	assert.Equal(cfg.TimeoutPrevote, cfg.Prevote(0))
	assert.Equal(
		cfg.TimeoutPrevote+2*cfg.TimeoutPrevoteDelta,
		cfg.Prevote(2))
	assert.Equal(cfg.TimeoutPrecommit, cfg.Precommit(0))
	assert.Equal(
		cfg.TimeoutPrecommit+5*cfg.TimeoutPrecommitDelta,
		cfg.Precommit(5))

	now := time.Now()
	assert.Equal(now.Add(cfg.TimeoutCommit), cfg.Commit(now))
}

func TestConsensusConfigValidateBasic(t *testing.T) {
	testcases := map[string]struct {
		modify    func(*ConsensusConfig)
		expectErr bool
	}{
		"default":                         {func(c *ConsensusConfig) {}, false},
		"TimeoutPropose negative":         {func(c *ConsensusConfig) { c.TimeoutPropose = -1 }, true},
		"TimeoutProposeDelta negative":    {func(c *ConsensusConfig) { c.TimeoutProposeDelta = -1 }, true},
		"TimeoutPrevote negative":         {func(c *ConsensusConfig) { c.TimeoutPrevote = -1 }, true},
		"TimeoutPrevoteDelta negative":    {func(c *ConsensusConfig) { c.TimeoutPrevoteDelta = -1 }, true},
		"TimeoutPrecommit negative":       {func(c *ConsensusConfig) { c.TimeoutPrecommit = -1 }, true},
		"TimeoutPrecommitDelta negative":  {func(c *ConsensusConfig) { c.TimeoutPrecommitDelta = -1 }, true},
		"TimeoutCommit negative":          {func(c *ConsensusConfig) { c.TimeoutCommit = -1 }, true},
	}
	for desc, tc := range testcases {
		tc := tc // appease linter
		t.Run(desc, func(t *testing.T) {
			cfg := DefaultConsensusConfig()
			tc.modify(cfg)

			err := cfg.ValidateBasic()
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
