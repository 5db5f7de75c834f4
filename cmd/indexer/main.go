// Command indexer runs the stake/delegate SMT indexer: the chain-tail sync
// task and the JSON-RPC query server, over the configured stores.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chainsync"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/historydb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/kvstore"
	"github.com/synnergy-chain/stake-smt-indexer/internal/rpcsrv"
	"github.com/synnergy-chain/stake-smt-indexer/internal/smt"
	"github.com/synnergy-chain/stake-smt-indexer/internal/txbuilder"
)

func main() {
	rootCmd := &cobra.Command{Use: "indexer", Short: "stake/delegate SMT indexer"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the configuration schema version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	}
}

func runCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "sync the chain and serve queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "config.toml", "path to the TOML configuration file")
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	log := logrus.WithField("component", "main")

	ids, err := config.BuildChainIDs(cfg)
	if err != nil {
		return err
	}
	deps, err := txbuilder.ParseDeps(cfg.CellDeps)
	if err != nil {
		return err
	}

	history, err := historydb.Open(cfg.SQLURL)
	if err != nil {
		return err
	}
	defer history.Close()

	kv, err := kvstore.Open(cfg.KVDir)
	if err != nil {
		return err
	}
	defer kv.Close()

	stakeSMT, err := smt.OpenStake(cfg.SMTDir + "/stake")
	if err != nil {
		return err
	}
	defer stakeSMT.Close()

	delegateSMT, err := smt.OpenDelegate(cfg.SMTDir + "/delegate")
	if err != nil {
		return err
	}
	defer delegateSMT.Close()

	rewardSMT, err := smt.OpenReward(cfg.SMTDir + "/reward")
	if err != nil {
		return err
	}
	defer rewardSMT.Close()

	client := chain.NewHTTPClient(cfg.ChainURL)

	dispatcher, err := chainsync.NewDispatcher(ids, history, kv, stakeSMT, delegateSMT)
	if err != nil {
		return err
	}

	if cfg.PrivateKey != "" {
		key, operatorLock, err := txbuilder.NewOperatorKey(cfg.PrivateKey, ids.XudtOwner)
		if err != nil {
			return err
		}
		dispatcher.SetAggregators(&chainsync.Aggregators{
			Stake:    txbuilder.NewStakeAggregator(client, ids, deps, key, operatorLock, cfg.Quorum, stakeSMT),
			Delegate: txbuilder.NewDelegateAggregator(client, ids, deps, key, operatorLock, delegateSMT),
			Client:   client,
		})
	} else {
		log.Warn("no operator key configured, running index-only")
	}

	puller, err := chainsync.NewPuller(client, dispatcher, history, cfg.StartNumber)
	if err != nil {
		return err
	}

	builders := txbuilder.NewSingleCellBuilders(client, ids)
	server := rpcsrv.New(dispatcher, puller, history, kv, client, ids, builders)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- puller.Run(ctx) }()
	go func() { errCh <- server.Serve(ctx, cfg.RPCListenAddr) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("task terminated")
			return err
		}
		return nil
	}
}
