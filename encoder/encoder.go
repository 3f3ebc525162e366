// Package encoder turns a simulated swap line into the batched call the
// aggregator contract executes atomically.
package encoder

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/uniswapv3/calculator"
	"github.com/defistate/defistate-arb/simulator"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call is one (target, value, data) entry of an aggregate batch.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// Encoder builds calls for an aggregator that holds no funds between
// transactions: input is pulled from Owner and the result swept back.
type Encoder struct {
	Aggregator common.Address
	Owner      common.Address
}

func New(aggregator, owner common.Address) *Encoder {
	return &Encoder{Aggregator: aggregator, Owner: owner}
}

type directional interface {
	ZeroForOne(tokenIn, tokenOut common.Address) (bool, error)
}

type indexed interface {
	Indices(tokenIn, tokenOut common.Address) (int, int, error)
}

func call(target common.Address, a abi.ABI, method string, args ...any) (Call, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return Call{Target: target, Value: new(big.Int), Data: data}, nil
}

// MakeCalls lays out transfer-in, one strategy per hop, then the sweep.
// Constant-product hops send their output straight to the next pool when
// that pool is also constant-product, which saves a transfer.
func (e *Encoder) MakeCalls(line simulator.SwapLine) ([]Call, error) {
	if !line.Ok() || line.Path.Len() == 0 || len(line.HopAmounts) != line.Path.Len() {
		return nil, ErrNotSimulated
	}
	hops := line.Path.Hops

	in, err := call(hops[0].TokenIn.Address, ERC20ABI, "transferFrom", e.Owner, e.Aggregator, line.AmountIn)
	if err != nil {
		return nil, err
	}
	calls := []Call{in}

	prefunded := false
	for i, hop := range hops {
		recipient := e.Aggregator
		if i+1 < len(hops) && hops[i+1].Pool.Variant() == market.ConstantProduct {
			recipient = hops[i+1].Pool.Address()
		}
		hopCalls, err := e.hopCalls(hop, line.HopIn(i), line.HopAmounts[i], recipient, prefunded)
		if err != nil {
			return nil, &EncodingError{Hop: i, Pool: hop.Pool.Address(), Err: err}
		}
		calls = append(calls, hopCalls...)
		prefunded = recipient != e.Aggregator
	}

	sweep, err := call(e.Aggregator, AggregatorABI, "sweep", line.Path.End().Address, e.Owner)
	if err != nil {
		return nil, err
	}
	return append(calls, sweep), nil
}

func (e *Encoder) hopCalls(hop market.Hop, amountIn, amountOut *big.Int, recipient common.Address, prefunded bool) ([]Call, error) {
	pool := hop.Pool.Address()
	switch hop.Pool.Variant() {
	case market.ConstantProduct:
		d, ok := hop.Pool.(directional)
		if !ok {
			return nil, ErrUnsupportedVariant
		}
		zeroForOne, err := d.ZeroForOne(hop.TokenIn.Address, hop.TokenOut.Address)
		if err != nil {
			return nil, err
		}
		amount0Out, amount1Out := new(big.Int), new(big.Int).Set(amountOut)
		if !zeroForOne {
			amount0Out, amount1Out = amount1Out, amount0Out
		}
		var out []Call
		if !prefunded {
			fund, err := call(hop.TokenIn.Address, ERC20ABI, "transfer", pool, amountIn)
			if err != nil {
				return nil, err
			}
			out = append(out, fund)
		}
		swap, err := call(pool, PairABI, "swap", amount0Out, amount1Out, recipient, []byte{})
		if err != nil {
			return nil, err
		}
		return append(out, swap), nil

	case market.ConcentratedLiquidity:
		d, ok := hop.Pool.(directional)
		if !ok {
			return nil, ErrUnsupportedVariant
		}
		zeroForOne, err := d.ZeroForOne(hop.TokenIn.Address, hop.TokenOut.Address)
		if err != nil {
			return nil, err
		}
		limit := new(big.Int).Sub(calculator.MaxSqrtRatio, big.NewInt(1))
		if zeroForOne {
			limit = new(big.Int).Add(calculator.MinSqrtRatio, big.NewInt(1))
		}
		// the swap callback pays the pool in the token named here
		swap, err := call(pool, CLPoolABI, "swap", recipient, zeroForOne, new(big.Int).Set(amountIn), limit, hop.TokenIn.Address.Bytes())
		if err != nil {
			return nil, err
		}
		return []Call{swap}, nil

	case market.StableSwap:
		d, ok := hop.Pool.(indexed)
		if !ok {
			return nil, ErrUnsupportedVariant
		}
		i, j, err := d.Indices(hop.TokenIn.Address, hop.TokenOut.Address)
		if err != nil {
			return nil, err
		}
		approve, err := call(hop.TokenIn.Address, ERC20ABI, "approve", pool, amountIn)
		if err != nil {
			return nil, err
		}
		exchange, err := call(pool, StablePoolABI, "exchange", big.NewInt(int64(i)), big.NewInt(int64(j)), amountIn, amountOut)
		if err != nil {
			return nil, err
		}
		calls := []Call{approve, exchange}
		if recipient != e.Aggregator {
			// exchange pays the aggregator, forward to a constant-product pool
			fwd, err := call(hop.TokenOut.Address, ERC20ABI, "transfer", recipient, amountOut)
			if err != nil {
				return nil, err
			}
			calls = append(calls, fwd)
		}
		return calls, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedVariant, hop.Pool.Variant())
}

// EncodeCalls packs calls into aggregate((address,uint256,bytes)[]) addressed to the aggregator.
func (e *Encoder) EncodeCalls(calls []Call) (common.Address, []byte, error) {
	if len(calls) == 0 {
		return common.Address{}, nil, &EncodingError{Hop: -1, Err: ErrEmptyCalls}
	}
	norm := make([]Call, len(calls))
	for i, c := range calls {
		norm[i] = c
		if norm[i].Value == nil {
			norm[i].Value = new(big.Int)
		}
		if norm[i].Data == nil {
			norm[i].Data = []byte{}
		}
	}
	payload, err := AggregatorABI.Pack("aggregate", norm)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack aggregate: %w", err)
	}
	return e.Aggregator, payload, nil
}

// Encode is MakeCalls followed by EncodeCalls.
func (e *Encoder) Encode(line simulator.SwapLine) (common.Address, []byte, error) {
	calls, err := e.MakeCalls(line)
	if err != nil {
		return common.Address{}, nil, err
	}
	return e.EncodeCalls(calls)
}

// DecodeCalls inverts EncodeCalls.
func DecodeCalls(payload []byte) ([]Call, error) {
	method := AggregatorABI.Methods["aggregate"]
	if len(payload) < 4 || !bytes.Equal(payload[:4], method.ID) {
		return nil, ErrBadPayload
	}
	vals, err := method.Inputs.Unpack(payload[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	var calls []Call
	if err := method.Inputs.Copy(&calls, vals); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	return calls, nil
}
