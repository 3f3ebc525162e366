package client

import (
	"math/big"

	"github.com/defistate/defistate-arb/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// wireHeader holds the newHeads fields the pipeline reads.
type wireHeader struct {
	Number     *hexutil.Big   `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
	GasUsed    hexutil.Uint64 `json:"gasUsed"`
	GasLimit   hexutil.Uint64 `json:"gasLimit"`
	BaseFee    *hexutil.Big   `json:"baseFeePerGas"`
	Miner      common.Address `json:"miner"`
}

func (h wireHeader) summary(receivedAt int64) engine.BlockSummary {
	s := engine.BlockSummary{
		Number:     new(big.Int).Set(h.Number.ToInt()),
		Hash:       h.Hash,
		ParentHash: h.ParentHash,
		Timestamp:  uint64(h.Timestamp),
		ReceivedAt: receivedAt,
		GasUsed:    uint64(h.GasUsed),
		GasLimit:   uint64(h.GasLimit),
		Coinbase:   h.Miner,
	}
	if h.BaseFee != nil {
		s.BaseFee = new(big.Int).Set(h.BaseFee.ToInt())
	}
	return s
}
