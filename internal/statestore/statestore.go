// Package statestore implements the authoritative, durable state store:
// a single bbolt database with one bucket per entity class, every bucket
// created up front at open time.
package statestore

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/findag-network/findag-core/internal/types"
)

// One bucket per persisted entity class.
var (
	bucketBlocks       = []byte("blocks")
	bucketBlockNumbers = []byte("block_numbers")
	bucketRounds       = []byte("rounds")
	bucketTransactions = []byte("transactions")
	bucketBalances     = []byte("balances")
	bucketValidators   = []byte("validators")
	bucketWallets      = []byte("wallets")
	bucketAssets       = []byte("assets")
	bucketGovernance   = []byte("governance")
	bucketMeta         = []byte("meta")
)

var allBuckets = [][]byte{
	bucketBlocks, bucketBlockNumbers, bucketRounds, bucketTransactions,
	bucketBalances, bucketValidators, bucketWallets, bucketAssets,
	bucketGovernance, bucketMeta,
}

var keyLatestBlock = []byte("latest_block")
var keyLatestRound = []byte("latest_round")

// ErrInsufficientBalance is returned by Debit when balance < amount.
var ErrInsufficientBalance = errors.New("statestore: insufficient balance")

// PersistenceError wraps a durable write or read failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("statestore: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the authoritative per-shard (account, asset) -> balance state
// plus the persisted block/round/transaction/validator trees.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the bbolt database at path, ensuring every bucket
// class exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, &PersistenceError{Op: "create buckets", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func balanceKey(shard types.ShardId, address types.Address, asset string) []byte {
	return []byte(fmt.Sprintf("balance:%d:%s:%s", shard, address, asset))
}

// GetBalance returns the current balance for (shard, address, asset), or 0
// if unset.
func (s *Store) GetBalance(shard types.ShardId, address types.Address, asset string) (uint64, error) {
	var bal uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBalances).Get(balanceKey(shard, address, asset))
		if v != nil {
			bal = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Op: "get balance", Err: err}
	}
	return bal, nil
}

// SetBalance overwrites a balance unconditionally.
func (s *Store) SetBalance(shard types.ShardId, address types.Address, asset string, amount uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putBalance(tx, shard, address, asset, amount)
	})
	if err != nil {
		return &PersistenceError{Op: "set balance", Err: err}
	}
	return nil
}

func putBalance(tx *bolt.Tx, shard types.ShardId, address types.Address, asset string, amount uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], amount)
	return tx.Bucket(bucketBalances).Put(balanceKey(shard, address, asset), v[:])
}

func getBalanceTx(tx *bolt.Tx, shard types.ShardId, address types.Address, asset string) uint64 {
	v := tx.Bucket(bucketBalances).Get(balanceKey(shard, address, asset))
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// Debit subtracts amount from (shard, address, asset), failing atomically
// (the whole bolt.Tx rolls back) if the balance would go negative.
func (s *Store) Debit(shard types.ShardId, address types.Address, asset string, amount uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		cur := getBalanceTx(tx, shard, address, asset)
		if cur < amount {
			return ErrInsufficientBalance
		}
		return putBalance(tx, shard, address, asset, cur-amount)
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return ErrInsufficientBalance
	}
	if err != nil {
		return &PersistenceError{Op: "debit", Err: err}
	}
	return nil
}

// Credit adds amount to (shard, address, asset).
func (s *Store) Credit(shard types.ShardId, address types.Address, asset string, amount uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		cur := getBalanceTx(tx, shard, address, asset)
		return putBalance(tx, shard, address, asset, cur+amount)
	})
	if err != nil {
		return &PersistenceError{Op: "credit", Err: err}
	}
	return nil
}

// Transfer combines a Debit and Credit inside a single atomic
// transaction; both legs commit or neither does.
func (s *Store) Transfer(shard types.ShardId, from, to types.Address, asset string, amount uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		cur := getBalanceTx(tx, shard, from, asset)
		if cur < amount {
			return ErrInsufficientBalance
		}
		if err := putBalance(tx, shard, from, asset, cur-amount); err != nil {
			return err
		}
		toBal := getBalanceTx(tx, shard, to, asset)
		return putBalance(tx, shard, to, asset, toBal+amount)
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return ErrInsufficientBalance
	}
	if err != nil {
		return &PersistenceError{Op: "transfer", Err: err}
	}
	return nil
}

// BlockTransferOp is one leg of a block's atomic state batch.
type BlockTransferOp struct {
	Shard  types.ShardId
	From   types.Address
	To     types.Address
	Asset  string
	Amount uint64
}

// ApplyBlock commits a block's transactions and the accompanying balance
// mutations in one bbolt transaction, along with the block record itself,
// so a block is only ever durable together with its state batch.
func (s *Store) ApplyBlock(block *types.Block, ops []BlockTransferOp) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			cur := getBalanceTx(tx, op.Shard, op.From, op.Asset)
			if cur < op.Amount {
				return fmt.Errorf("%w: shard=%d from=%s asset=%s", ErrInsufficientBalance, op.Shard, op.From, op.Asset)
			}
			if err := putBalance(tx, op.Shard, op.From, op.Asset, cur-op.Amount); err != nil {
				return err
			}
			toBal := getBalanceTx(tx, op.Shard, op.To, op.Asset)
			if err := putBalance(tx, op.Shard, op.To, op.Asset, toBal+op.Amount); err != nil {
				return err
			}
		}

		blkBytes, err := types.EncodeArtifact(block)
		if err != nil {
			return err
		}
		blocks := tx.Bucket(bucketBlocks)
		if err := blocks.Put(blockKey(block.BlockId), blkBytes); err != nil {
			return err
		}
		numbers := tx.Bucket(bucketBlockNumbers)
		next, _ := numbers.NextSequence()
		var seq [8]byte
		binary.BigEndian.PutUint64(seq[:], next)
		numKey := append([]byte("block_number:"), seq[:]...)
		if err := numbers.Put(numKey, blkBytes); err != nil {
			return err
		}
		if err := blocks.Put(keyLatestBlock, blkBytes); err != nil {
			return err
		}

		txs := tx.Bucket(bucketTransactions)
		for i := range block.Transactions {
			txBytes, err := types.EncodeArtifact(&block.Transactions[i])
			if err != nil {
				return err
			}
			if err := txs.Put(txKey(block.Transactions[i].HashTimer), txBytes); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return err
	}
	if err != nil {
		return &PersistenceError{Op: "apply block", Err: err}
	}
	return nil
}

func blockKey(id [32]byte) []byte {
	return []byte("block:" + hex.EncodeToString(id[:]))
}

func txKey(ht types.HashTimer) []byte {
	return []byte("tx:" + hex.EncodeToString(ht[:]))
}

func roundKey(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return append([]byte("round:"), b[:]...)
}

// GetBlock returns the block stored under id, or nil if absent.
func (s *Store) GetBlock(id [32]byte) (*types.Block, error) {
	var out *types.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(blockKey(id))
		if v == nil {
			return nil
		}
		blk, err := types.DecodeBlock(v)
		if err != nil {
			return err
		}
		out = blk
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "get block", Err: err}
	}
	return out, nil
}

// ListBlocks returns every persisted block in application order, used on
// crash recovery to rebuild the in-memory DAG and tip set.
func (s *Store) ListBlocks() ([]*types.Block, error) {
	var out []*types.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlockNumbers).ForEach(func(k, v []byte) error {
			blk, err := types.DecodeBlock(v)
			if err != nil {
				return err
			}
			out = append(out, blk)
			return nil
		})
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list blocks", Err: err}
	}
	return out, nil
}

// LatestBlock returns the most recently applied block, or nil if none.
func (s *Store) LatestBlock() (*types.Block, error) {
	var out *types.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(keyLatestBlock)
		if v == nil {
			return nil
		}
		blk, err := types.DecodeBlock(v)
		if err != nil {
			return err
		}
		out = blk
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "latest block", Err: err}
	}
	return out, nil
}

// PutRound persists a finalized round and updates latest_round.
func (s *Store) PutRound(round *types.Round) error {
	b, err := types.EncodeArtifact(round)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		rounds := tx.Bucket(bucketRounds)
		if err := rounds.Put(roundKey(round.RoundId), b); err != nil {
			return err
		}
		return rounds.Put(keyLatestRound, b)
	})
	if err != nil {
		return &PersistenceError{Op: "put round", Err: err}
	}
	return nil
}

// GetRound returns the round stored at roundId, or nil if absent.
func (s *Store) GetRound(roundId uint64) (*types.Round, error) {
	var out *types.Round
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRounds).Get(roundKey(roundId))
		if v == nil {
			return nil
		}
		rnd, err := types.DecodeRound(v)
		if err != nil {
			return err
		}
		out = rnd
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "get round", Err: err}
	}
	return out, nil
}

// LatestRound returns the most recently finalized round, or nil if none.
func (s *Store) LatestRound() (*types.Round, error) {
	var out *types.Round
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRounds).Get(keyLatestRound)
		if v == nil {
			return nil
		}
		rnd, err := types.DecodeRound(v)
		if err != nil {
			return err
		}
		out = rnd
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "latest round", Err: err}
	}
	return out, nil
}

// ListRounds returns every persisted round in ascending round_id order.
func (s *Store) ListRounds() ([]*types.Round, error) {
	var out []*types.Round
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRounds).ForEach(func(k, v []byte) error {
			if string(k) == string(keyLatestRound) {
				return nil
			}
			rnd, err := types.DecodeRound(v)
			if err != nil {
				return err
			}
			out = append(out, rnd)
			return nil
		})
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list rounds", Err: err}
	}
	return out, nil
}

func validatorKey(addr types.Address) []byte {
	return []byte("validator:" + string(addr))
}

// PutValidator persists a validator record.
func (s *Store) PutValidator(v *types.Validator) error {
	b, err := types.EncodeArtifact(v)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketValidators).Put(validatorKey(v.Address), b)
	})
	if err != nil {
		return &PersistenceError{Op: "put validator", Err: err}
	}
	return nil
}

// ListValidators returns every persisted validator record.
func (s *Store) ListValidators() ([]*types.Validator, error) {
	var out []*types.Validator
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketValidators).ForEach(func(k, v []byte) error {
			var val types.Validator
			if err := decodeValidator(v, &val); err != nil {
				return err
			}
			out = append(out, &val)
			return nil
		})
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list validators", Err: err}
	}
	return out, nil
}

func decodeValidator(b []byte, out *types.Validator) error {
	v, err := types.DecodeValidator(b)
	if err != nil {
		return err
	}
	*out = *v
	return nil
}
