// Package propagation implements the boundary propagation contract:
// outbound, the node emits NewTransaction/NewBlock/NewRound artifacts;
// inbound, it deduplicates by stable identity before re-entering the
// pool/DAG/finalizer. The transport itself is supplied by the caller; this
// package owns only the hook and dedup shape.
package propagation

import (
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/findag-network/findag-core/internal/types"
)

// Transport is the external collaborator responsible for best-effort
// delivery of serialized artifact bytes; its only obligations are
// best-effort delivery and preserving the bytes.
type Transport interface {
	BroadcastTransaction(tx *types.Transaction) error
	BroadcastBlock(blk *types.Block) error
	BroadcastRound(round *types.Round) error
}

// Sink receives deduplicated inbound artifacts for re-entry into D/F/G.
type Sink interface {
	AdmitTransaction(tx types.Transaction) error
	AppendBlock(blk *types.Block) error
	AcceptRound(round *types.Round) error
}

const defaultDedupSize = 50_000

// Layer owns the outbound Transport and the inbound dedup caches.
type Layer struct {
	transport Transport
	sink      Sink
	logger    *logrus.Logger

	seenTx    *lru.Cache[types.HashTimer, struct{}]
	seenBlock *lru.Cache[[32]byte, struct{}]
	seenRound *lru.Cache[uint64, struct{}]
}

// New constructs a Layer. dedupSize bounds each identity cache; 0 selects a
// 50,000-entry default. A nil logger falls back to a default logrus logger.
func New(transport Transport, sink Sink, dedupSize int, logger *logrus.Logger) (*Layer, error) {
	if dedupSize <= 0 {
		dedupSize = defaultDedupSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	txCache, err := lru.New[types.HashTimer, struct{}](dedupSize)
	if err != nil {
		return nil, err
	}
	blockCache, err := lru.New[[32]byte, struct{}](dedupSize)
	if err != nil {
		return nil, err
	}
	roundCache, err := lru.New[uint64, struct{}](dedupSize)
	if err != nil {
		return nil, err
	}
	return &Layer{transport: transport, sink: sink, logger: logger, seenTx: txCache, seenBlock: blockCache, seenRound: roundCache}, nil
}

// NewTransaction is the outbound hook core.Node.SubmitTransaction calls
// once a transaction has been admitted to the pool.
func (l *Layer) NewTransaction(tx *types.Transaction) {
	l.seenTx.Add(tx.HashTimer, struct{}{})
	corrID := uuid.New().String()
	if l.transport != nil {
		if err := l.transport.BroadcastTransaction(tx); err != nil {
			l.logger.WithFields(logrus.Fields{"correlation_id": corrID, "from": tx.From}).WithError(err).Debug("propagation: broadcast transaction failed")
		}
	}
}

// NewBlock is the producer's outbound hook (implements producer.Handoff).
func (l *Layer) NewBlock(blk *types.Block) {
	l.seenBlock.Add(blk.BlockId, struct{}{})
	corrID := uuid.New().String()
	if l.transport != nil {
		if err := l.transport.BroadcastBlock(blk); err != nil {
			l.logger.WithFields(logrus.Fields{"correlation_id": corrID, "block_id": blk.BlockId}).WithError(err).Debug("propagation: broadcast block failed")
		}
	}
}

// NewRound is the finalizer's outbound hook (implements roundchain.Handoff).
func (l *Layer) NewRound(round *types.Round) {
	l.seenRound.Add(round.RoundId, struct{}{})
	corrID := uuid.New().String()
	if l.transport != nil {
		if err := l.transport.BroadcastRound(round); err != nil {
			l.logger.WithFields(logrus.Fields{"correlation_id": corrID, "round_id": round.RoundId}).WithError(err).Debug("propagation: broadcast round failed")
		}
	}
}

// InboundTransaction dedups an externally received transaction by
// hashtimer before admitting it to the pool.
func (l *Layer) InboundTransaction(tx types.Transaction) error {
	if l.seenTx.Contains(tx.HashTimer) {
		return nil
	}
	l.seenTx.Add(tx.HashTimer, struct{}{})
	return l.sink.AdmitTransaction(tx)
}

// InboundBlock dedups an externally received block by block_id before
// appending it to the DAG.
func (l *Layer) InboundBlock(blk *types.Block) error {
	if l.seenBlock.Contains(blk.BlockId) {
		return nil
	}
	l.seenBlock.Add(blk.BlockId, struct{}{})
	return l.sink.AppendBlock(blk)
}

// InboundRound dedups an externally received round by round_id before
// handing it to the finalizer's Accept path.
func (l *Layer) InboundRound(round *types.Round) error {
	if l.seenRound.Contains(round.RoundId) {
		return nil
	}
	l.seenRound.Add(round.RoundId, struct{}{})
	return l.sink.AcceptRound(round)
}
