// Command findagd runs a FinDAG consensus node.
package main

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/findag-network/findag-core/core"
	"github.com/findag-network/findag-core/internal/producer"
	"github.com/findag-network/findag-core/internal/roundchain"
	"github.com/findag-network/findag-core/internal/timeservice"
	"github.com/findag-network/findag-core/internal/txpool"
	"github.com/findag-network/findag-core/internal/types"
	"github.com/findag-network/findag-core/pkg/config"
	"github.com/findag-network/findag-core/pkg/metrics"
)

func main() {
	rootCmd := &cobra.Command{Use: "findagd"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(validatorCmd())
	rootCmd.AddCommand(txCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openNode opens the durable state store at the configured db path for a
// one-shot CLI operation (query/validator/tx). It does not start the
// producer/finalizer/time loops; callers are expected to Close the
// returned node when done. Running this against a live "run" node's db
// path fails to acquire bbolt's file lock: one owner per db file.
func openNode(env string) (*core.Node, *config.Config, error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, nil, fmt.Errorf("findagd: load config: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	node, err := core.NewNode(core.NodeConfig{}, cfg.Node.DBPath, "", nil, nil, cfg.Pool.AssetWhitelist, nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("findagd: open node: %w", err)
	}
	return node, cfg, nil
}

func queryCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{Use: "query", Short: "read node state"}
	cmd.PersistentFlags().StringVar(&env, "env", "", "named config overlay")

	balCmd := &cobra.Command{
		Use:   "balance <address> <asset>",
		Short: "look up a balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()
			bal, err := node.GetBalance(0, types.Address(args[0]), args[1])
			if err != nil {
				return err
			}
			fmt.Println(bal)
			return nil
		},
	}

	blockCmd := &cobra.Command{
		Use:   "block [limit]",
		Short: "list the most recent blocks (or all if limit omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()
			limit := parseLimit(args)
			blocks, err := node.ListRecentBlocks(limit)
			if err != nil {
				return err
			}
			for _, b := range blocks {
				fmt.Printf("%x tx_count=%d findag_time=%d\n", b.BlockId, len(b.Transactions), b.FinDAGTime)
			}
			return nil
		},
	}

	roundCmd := &cobra.Command{
		Use:   "round [limit]",
		Short: "list the most recently finalized rounds (or all if limit omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()
			limit := parseLimit(args)
			rounds, err := node.ListRecentRounds(limit)
			if err != nil {
				return err
			}
			for _, r := range rounds {
				fmt.Printf("round_id=%d blocks=%d proposer=%s\n", r.RoundId, len(r.BlockIds), r.Proposer)
			}
			return nil
		},
	}

	cmd.AddCommand(balCmd, blockCmd, roundCmd)
	return cmd
}

func validatorCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{Use: "validator", Short: "manage the validator set"}
	cmd.PersistentFlags().StringVar(&env, "env", "", "named config overlay")

	addCmd := &cobra.Command{
		Use:   "add <address> <public_key_hex> <stake>",
		Short: "register a new active validator",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()
			pub, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("findagd: decode public key: %w", err)
			}
			var stake uint64
			if _, err := fmt.Sscanf(args[2], "%d", &stake); err != nil {
				return fmt.Errorf("findagd: parse stake: %w", err)
			}
			return node.AddValidator(types.Address(args[0]), pub, stake)
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <address>",
		Short: "deactivate a validator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()
			return node.RemoveValidator(types.Address(args[0]))
		},
	}

	slashCmd := &cobra.Command{
		Use:   "slash <address>",
		Short: "slash a misbehaving validator, forfeiting part of its stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()
			forfeited, err := node.SlashValidator(types.Address(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("forfeited=%d\n", forfeited)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list the active validator set",
		RunE: func(cmd *cobra.Command, args []string) error {
			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()
			for _, v := range node.Validators.ActiveSorted() {
				fmt.Printf("%s stake=%d status=%s\n", v.Address, v.Stake, v.Status)
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, removeCmd, slashCmd, listCmd)
	return cmd
}

func txCmd() *cobra.Command {
	var env, keyHex, asset string
	var amount uint64
	cmd := &cobra.Command{Use: "tx", Short: "submit transactions"}
	cmd.PersistentFlags().StringVar(&env, "env", "", "named config overlay")

	submitCmd := &cobra.Command{
		Use:   "submit <to>",
		Short: "sign and submit a transaction into the local pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(keyHex)
			if err != nil {
				return fmt.Errorf("findagd: decode key: %w", err)
			}
			priv := ed25519.PrivateKey(raw)
			pub := priv.Public().(ed25519.PublicKey)
			from, err := types.AddressFromPublicKey(pub)
			if err != nil {
				return fmt.Errorf("findagd: derive address: %w", err)
			}

			node, _, err := openNode(env)
			if err != nil {
				return err
			}
			defer node.Close()

			tx := types.Transaction{From: from, To: types.Address(args[0]), Amount: amount, Asset: asset}
			types.SignTransaction(&tx, node.Time.FinDAGTime(), randomNonce(), func(b []byte) []byte { return types.Sign(priv, b) }, pub)
			if err := node.SubmitTransaction(tx); err != nil {
				return fmt.Errorf("findagd: submit: %w", err)
			}
			fmt.Printf("hashtimer=%x\n", tx.HashTimer)
			return nil
		},
	}
	submitCmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded ed25519 private key (64 bytes)")
	submitCmd.Flags().StringVar(&asset, "asset", "USD", "asset code")
	submitCmd.Flags().Uint64Var(&amount, "amount", 0, "transfer amount")
	submitCmd.MarkFlagRequired("key")
	submitCmd.MarkFlagRequired("amount")

	cmd.AddCommand(submitCmd)
	return cmd
}

func parseLimit(args []string) int {
	if len(args) == 0 {
		return 0
	}
	var n int
	fmt.Sscanf(args[0], "%d", &n)
	return n
}

func randomNonce() uint32 {
	var b [4]byte
	_, _ = crand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func runCmd() *cobra.Command {
	var env string
	var keyHex string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "start a findagd node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(env, keyHex)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "named config overlay (e.g. production)")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded ed25519 private key (64 bytes); generates a fresh one if omitted")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a new validator keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, addr, err := types.NewKeypair()
			if err != nil {
				return err
			}
			fmt.Printf("address:     %s\n", addr)
			fmt.Printf("private_key: %s\n", hex.EncodeToString(priv))
			fmt.Printf("public_key:  %s\n", hex.EncodeToString(pub))
			return nil
		},
	}
}

func runNode(env, keyHex string) error {
	logger := logrus.New()

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("findagd: load config: %w", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}

	var priv ed25519.PrivateKey
	var pub ed25519.PublicKey
	var addr types.Address
	if keyHex != "" {
		raw, err := hex.DecodeString(keyHex)
		if err != nil {
			return fmt.Errorf("findagd: decode key: %w", err)
		}
		priv = ed25519.PrivateKey(raw)
		pub = priv.Public().(ed25519.PublicKey)
		addr, err = types.AddressFromPublicKey(pub)
		if err != nil {
			return fmt.Errorf("findagd: derive address: %w", err)
		}
	} else {
		priv, pub, addr, err = types.NewKeypair()
		if err != nil {
			return fmt.Errorf("findagd: generate key: %w", err)
		}
		logger.WithField("address", addr).Warn("findagd: no --key provided, generated an ephemeral identity")
	}

	nodeCfg := core.NodeConfig{
		Producer: producer.Config{
			BlockInterval: msToDuration(cfg.Consensus.BlockIntervalMS),
			MaxBlockTxs:   cfg.Consensus.MaxBlockTxs,
			Heartbeat:     cfg.Consensus.Heartbeat,
		},
		Finalizer: roundchain.Config{
			RoundInterval:     msToDuration(cfg.Consensus.RoundIntervalMS),
			FinalizerDeadline: msToDuration(cfg.Consensus.FinalizerDeadlineMS),
		},
		Pool: txpool.Config{
			MaxMempoolPerShard: cfg.Pool.MaxMempoolPerShard,
			ReplayWindow:       cfg.Pool.TxReplayWindow,
		},
		Time: timeservice.Config{
			MaxPeerOffsetUS: int64(cfg.Time.MaxPeerOffsetUS),
			PingInterval:    secondsToDuration(cfg.Time.PingIntervalS),
		},
		DedupSize: cfg.Pool.TxReplayWindow,
	}

	node, err := core.NewNode(nodeCfg, cfg.Node.DBPath, addr, priv, pub, cfg.Pool.AssetWhitelist, nil, logger)
	if err != nil {
		return fmt.Errorf("findagd: construct node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.WithError(err).Warn("findagd: close node")
		}
	}()

	if cfg.Metrics.Enabled {
		sink := metrics.NewPrometheus()
		node.Producer.WithMetrics(sink)
		node.Finalizer.WithMetrics(sink)
		mux := http.NewServeMux()
		mux.Handle("/metrics", sink.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Warn("findagd: metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	if err := node.AddValidator(addr, pub, 1); err != nil {
		logger.WithError(err).Debug("findagd: self already registered as validator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.Recover(ctx); err != nil {
		return fmt.Errorf("findagd: recover: %w", err)
	}

	node.Start(ctx)
	logger.WithField("address", addr).Info("findagd: node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("findagd: shutdown signal received, draining")
	cancel()
	node.Wait()
	return nil
}

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }
