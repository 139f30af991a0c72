package types

// types.go – centralised data-model struct definitions shared by core and
// every internal/* component package. Declares types only, no behaviour, and
// imports nothing from the rest of this module's internal/* tree beyond the
// leaf internal/hashtimer package, so it can sit beneath core and every
// component package without creating an import cycle.

import (
	"github.com/findag-network/findag-core/internal/hashtimer"
)

// ShardId partitions state and the transaction pool.
type ShardId uint16

// Address is an opaque bech32-style identifier, e.g. "fdg1q...".
type Address string

// FinDAGTime is a 64-bit logical timestamp: upper 40 bits seconds since the
// Unix epoch, lower 24 bits a count of 100ns slots within that second.
type FinDAGTime = hashtimer.FinDAGTime

// HashTimer is the 32-byte, byte-lex totally ordered artifact timestamp.
type HashTimer = hashtimer.HashTimer

// BridgeProtocol tags the external proof payload carried by a bridging
// transaction. Verification of the payload itself is a capability interface
// exposed to external collaborators, never implemented in this module.
type BridgeProtocol uint8

const (
	BridgeNone BridgeProtocol = iota
	BridgeCorda
	BridgeFabric
)

func (p BridgeProtocol) String() string {
	switch p {
	case BridgeCorda:
		return "Corda"
	case BridgeFabric:
		return "Fabric"
	default:
		return "None"
	}
}

// Transaction is the unit of transfer admitted by the pool and carried in
// blocks. Amount is denominated in the smallest unit of Asset.
type Transaction struct {
	From       Address    `json:"from"`
	To         Address    `json:"to"`
	Amount     uint64     `json:"amount"`
	Asset      string     `json:"asset"`
	ShardId    ShardId    `json:"shard_id"`
	Payload    []byte     `json:"payload,omitempty"`
	FinDAGTime FinDAGTime `json:"findag_time"`
	HashTimer  HashTimer  `json:"hashtimer"`
	Signature  []byte     `json:"signature"`
	PublicKey  []byte     `json:"public_key"`

	SourceShard    *ShardId       `json:"source_shard,omitempty" rlp:"optional"`
	DestShard      *ShardId       `json:"dest_shard,omitempty" rlp:"optional"`
	TargetChain    string         `json:"target_chain,omitempty" rlp:"optional"`
	BridgeProtocol BridgeProtocol `json:"bridge_protocol,omitempty" rlp:"optional"`
}

// Block is a signed DAG artifact referencing its parent tips at production
// time and carrying an ordered, fully-validated list of transactions.
type Block struct {
	BlockId      [32]byte      `json:"block_id"`
	Parents      [][32]byte    `json:"parents"`
	Transactions []Transaction `json:"transactions"`
	FinDAGTime   FinDAGTime    `json:"findag_time"`
	HashTimer    HashTimer     `json:"hashtimer"`
	Proposer     Address       `json:"proposer"`
	Signature    []byte        `json:"signature"`
	PublicKey    []byte        `json:"public_key"`
}

// Round linearly finalizes every block produced since the previous round.
type Round struct {
	RoundId      uint64     `json:"round_id"`
	ParentRounds []uint64   `json:"parent_rounds"`
	BlockIds     [][32]byte `json:"block_ids"`
	FinDAGTime   FinDAGTime `json:"findag_time"`
	HashTimer    HashTimer  `json:"hashtimer"`
	Proposer     Address    `json:"proposer"`
	Signature    []byte     `json:"signature"`
	PublicKey    []byte     `json:"public_key"`
}

// ValidatorStatus is the lifecycle state of a persisted validator record.
type ValidatorStatus uint8

const (
	ValidatorActive ValidatorStatus = iota
	ValidatorInactive
	ValidatorSlashed
)

func (s ValidatorStatus) String() string {
	switch s {
	case ValidatorActive:
		return "Active"
	case ValidatorSlashed:
		return "Slashed"
	default:
		return "Inactive"
	}
}

// MetadataEntry is one key/value pair of validator metadata. Validator uses
// an ordered slice of entries rather than a map so the record stays
// RLP-encodable (the go-ethereum/rlp encoder used for persistence does not
// support Go maps) and so its byte encoding is deterministic.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Validator is the persisted validator record.
type Validator struct {
	Address   Address         `json:"address"`
	PublicKey []byte          `json:"public_key"`
	Status    ValidatorStatus `json:"status"`
	Stake     uint64          `json:"stake"`
	Metadata  []MetadataEntry `json:"metadata,omitempty" rlp:"optional"`
}
