package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Executor performs one read-only hop against a simulation branch.
type Executor interface {
	Execute(ctx context.Context, st *state.Overlay, env engine.Env, hop market.Hop, amountIn *big.Int) (amountOut *big.Int, gasUsed uint64, err error)
}

// NativeExecutor quotes through the pool variant's own math, reading pool state from the overlay.
type NativeExecutor struct{}

func (NativeExecutor) Execute(ctx context.Context, st *state.Overlay, _ engine.Env, hop market.Hop, amountIn *big.Int) (*big.Int, uint64, error) {
	if gq, ok := hop.Pool.(market.GasQuoter); ok {
		return gq.QuoteWithGas(ctx, st, hop.TokenIn.Address, hop.TokenOut.Address, amountIn)
	}
	out, err := hop.Pool.Quote(ctx, st, hop.TokenIn.Address, hop.TokenOut.Address, amountIn)
	if err != nil {
		return nil, 0, err
	}
	return out, hop.Pool.GasEstimate(), nil
}

// ContractCaller is satisfied by *gethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int, overrides *map[common.Address]gethclient.OverrideAccount) ([]byte, error)
}

// HelperABI is the quoter helper interface: it performs the swap inside the
// call frame, measures the gas it consumed and returns both.
const HelperABI = `[{"type":"function","name":"quote","stateMutability":"nonpayable","inputs":[{"name":"pool","type":"address"},{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"},{"name":"gasUsed","type":"uint256"}]}]`

var helperABI = mustParseABI(HelperABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// HelperExecutor runs every hop as an eth_call into a quoter helper. The
// overlay's accumulated writes travel with the call as state overrides, and
// Code, when set, injects the helper at Helper so it never needs deploying.
type HelperExecutor struct {
	Caller ContractCaller
	Helper common.Address
	Code   []byte
}

func (h *HelperExecutor) Execute(ctx context.Context, st *state.Overlay, env engine.Env, hop market.Hop, amountIn *big.Int) (*big.Int, uint64, error) {
	data, err := helperABI.Pack("quote", hop.Pool.Address(), hop.TokenIn.Address, hop.TokenOut.Address, amountIn)
	if err != nil {
		return nil, 0, fmt.Errorf("pack quote: %w", err)
	}

	if h.Code != nil {
		st.Inject(h.Helper, state.Override{Code: h.Code})
	}
	overrides := GethOverrides(st.Overrides())

	to := h.Helper
	msg := ethereum.CallMsg{From: env.From, To: &to, Data: data, Gas: env.GasLimit}
	res, err := h.Caller.CallContract(ctx, msg, st.Base().Block(), &overrides)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, 0, &SimError{Kind: KindRevert, Pool: hop.Pool.Address(), Reason: reason}
		}
		return nil, 0, err
	}

	vals, err := helperABI.Unpack("quote", res)
	if err != nil {
		return nil, 0, fmt.Errorf("unpack quote: %w", err)
	}
	amountOut, _ := vals[0].(*big.Int)
	gasUsed, _ := vals[1].(*big.Int)
	if amountOut == nil || gasUsed == nil {
		return nil, 0, errors.New("unpack quote: unexpected output types")
	}
	return amountOut, gasUsed.Uint64(), nil
}

// GethOverrides converts overlay diffs into the eth_call override set.
func GethOverrides(diffs map[common.Address]state.AccountOverride) map[common.Address]gethclient.OverrideAccount {
	out := make(map[common.Address]gethclient.OverrideAccount, len(diffs))
	for addr, d := range diffs {
		acc := gethclient.OverrideAccount{
			Code:      d.Code,
			Balance:   d.Balance,
			StateDiff: d.StateDiff,
		}
		if d.Nonce != nil {
			acc.Nonce = *d.Nonce
		}
		out[addr] = acc
	}
	return out
}

// revertReason extracts the decoded revert string from a JSON-RPC error.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
				return s, true
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return err.Error(), true
	}
	return "", false
}
