package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
private_key = "0x00"
chain_url = "http://127.0.0.1:8114"
rpc_listen_addr = ":8090"
sql_url = "indexer.sqlite"
kv_dir = "./data/kv"
smt_dir = "./data/smt"
start_number = 100
network_type = "testnet"

axon_token_args = "0x1111111111111111111111111111111111111111111111111111111111111111"
stake_at_code_hash = "0x2222222222222222222222222222222222222222222222222222222222222222"
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8114", cfg.ChainURL)
	require.Equal(t, uint64(100), cfg.StartNumber)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestBuildChainIDsRejectsBadHash(t *testing.T) {
	cfg := &Config{AxonTokenArgs: "not-hex"}
	_, err := BuildChainIDs(cfg)
	require.Error(t, err)
}

func TestBuildChainIDsSkipsEmpty(t *testing.T) {
	cfg := &Config{}
	ids, err := BuildChainIDs(cfg)
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, [32]byte(ids.AxonTokenArgs))
}
