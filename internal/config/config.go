// Package config provides the TOML configuration loader for the indexer:
// a Config struct, a package-level Load function, and an optional .env
// overlay applied before the file is read.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified TOML configuration for the indexer process.
type Config struct {
	PrivateKey    string `toml:"private_key"`
	ChainURL      string `toml:"chain_url"`
	RPCListenAddr string `toml:"rpc_listen_addr"`
	SQLURL        string `toml:"sql_url"`
	KVDir         string `toml:"kv_dir"`
	SMTDir        string `toml:"smt_dir"`
	StartNumber   uint64 `toml:"start_number"`
	NetworkType   string `toml:"network_type"`

	// Quorum is the active-committee size parameter; the aggregation
	// builder keeps the top 3*quorum stakers.
	Quorum uint64 `toml:"quorum"`

	// CellDeps are the fixed lock/type code dependencies the aggregation
	// transactions reference, as "0xtxhash:index" out-points.
	CellDeps CellDeps `toml:"cell_deps"`

	AxonTokenArgs       string `toml:"axon_token_args"`
	XudtOwner           string `toml:"xudt_owner"`
	IssuanceTypeID      string `toml:"issuance_type_id"`
	MetadataTypeID      string `toml:"metadata_type_id"`
	CheckpointTypeID    string `toml:"checkpoint_type_id"`
	StakeATCodeHash     string `toml:"stake_at_code_hash"`
	DelegateATCodeHash  string `toml:"delegate_at_code_hash"`
	StakeSMTCodeHash    string `toml:"stake_smt_code_hash"`
	DelegateSMTCodeHash string `toml:"delegate_smt_code_hash"`
	MetadataCodeHash    string `toml:"metadata_code_hash"`
	WithdrawCodeHash    string `toml:"withdraw_code_hash"`
}

// Load reads the TOML file at path into a Config. Any .env file in the
// current directory is loaded first so secrets can come from the
// environment instead of the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.RPCListenAddr == "" {
		cfg.RPCListenAddr = ":8090"
	}
	return &cfg, nil
}

// LoadFromEnv loads the config file named by the INDEXER_CONFIG environment
// variable, defaulting to "config.toml" in the working directory.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv("INDEXER_CONFIG")
	if path == "" {
		path = "config.toml"
	}
	return Load(path)
}

// CellDeps holds the fixed code-cell out-points referenced as cell deps by
// every aggregation transaction. The checkpoint and metadata deps are not
// listed here: those are resolved live at build time.
type CellDeps struct {
	StakeLock    string `toml:"stake_lock"`
	DelegateLock string `toml:"delegate_lock"`
	WithdrawLock string `toml:"withdraw_lock"`
	Xudt         string `toml:"xudt"`
}

// ChainIDs bundles the on-chain identifiers the classifier and tx builder
// need to recognize protocol cells: the token args, the owner, the three
// singleton type ids, and the code hashes of the stake/delegate AT locks
// and the stake/delegate SMT type scripts (the AT lock and the SMT type are
// separately deployed contracts with distinct code hashes). It is
// constructed once at startup from Config and passed by pointer into every
// component that needs it; nothing mutates it after init.
type ChainIDs struct {
	AxonTokenArgs       types.Hash
	XudtOwner           types.Hash
	IssuanceTypeID      types.Hash
	MetadataTypeID      types.Hash
	CheckpointTypeID    types.Hash
	StakeATCodeHash     types.Hash
	DelegateATCodeHash  types.Hash
	StakeSMTCodeHash    types.Hash
	DelegateSMTCodeHash types.Hash
	MetadataCodeHash    types.Hash
	WithdrawCodeHash    types.Hash
}

// BuildChainIDs parses the hex identifiers out of Config into a ChainIDs
// bundle.
func BuildChainIDs(cfg *Config) (*ChainIDs, error) {
	ids := &ChainIDs{}
	type field struct {
		name string
		src  string
		dst  *types.Hash
	}
	fields := []field{
		{"axon_token_args", cfg.AxonTokenArgs, &ids.AxonTokenArgs},
		{"xudt_owner", cfg.XudtOwner, &ids.XudtOwner},
		{"issuance_type_id", cfg.IssuanceTypeID, &ids.IssuanceTypeID},
		{"metadata_type_id", cfg.MetadataTypeID, &ids.MetadataTypeID},
		{"checkpoint_type_id", cfg.CheckpointTypeID, &ids.CheckpointTypeID},
		{"stake_at_code_hash", cfg.StakeATCodeHash, &ids.StakeATCodeHash},
		{"delegate_at_code_hash", cfg.DelegateATCodeHash, &ids.DelegateATCodeHash},
		{"stake_smt_code_hash", cfg.StakeSMTCodeHash, &ids.StakeSMTCodeHash},
		{"delegate_smt_code_hash", cfg.DelegateSMTCodeHash, &ids.DelegateSMTCodeHash},
		{"metadata_code_hash", cfg.MetadataCodeHash, &ids.MetadataCodeHash},
		{"withdraw_code_hash", cfg.WithdrawCodeHash, &ids.WithdrawCodeHash},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		h, err := types.ParseHash(f.src)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", f.name, err)
		}
		*f.dst = h
	}
	return ids, nil
}
