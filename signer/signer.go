// Package signer holds the searcher key: it signs the bundle transactions
// and the relay authentication header.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs EIP-1559 transactions for one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	txSigner   types.Signer
}

// New creates a Signer from a hex-encoded secp256k1 key, with or without the 0x prefix.
func New(privateKeyHex string, chainID *big.Int) (*Signer, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("signer: chain id must be positive")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    new(big.Int).Set(chainID),
		txSigner:   types.LatestSignerForChainID(chainID),
	}, nil
}

func (s *Signer) Address() common.Address { return s.address }

func (s *Signer) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// TxParams describes one dynamic-fee call.
type TxParams struct {
	Nonce      uint64
	To         common.Address
	Data       []byte
	Value      *big.Int
	Gas        uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	AccessList types.AccessList
}

// SignCall builds and signs a dynamic-fee transaction and returns it with its
// binary encoding, which is what bundles carry.
func (s *Signer) SignCall(p TxParams) (*types.Transaction, []byte, error) {
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	tx, err := types.SignNewTx(s.privateKey, s.txSigner, &types.DynamicFeeTx{
		ChainID:    s.chainID,
		Nonce:      p.Nonce,
		GasTipCap:  p.GasTipCap,
		GasFeeCap:  p.GasFeeCap,
		Gas:        p.Gas,
		To:         &p.To,
		Value:      value,
		Data:       p.Data,
		AccessList: p.AccessList,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("signer: sign tx: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("signer: encode tx: %w", err)
	}
	return tx, raw, nil
}

// FeeCaps returns a tip and a fee cap that stays valid for a few base fee increases.
func FeeCaps(baseFee, tip *big.Int) (gasTipCap, gasFeeCap *big.Int) {
	gasTipCap = new(big.Int).Set(tip)
	gasFeeCap = new(big.Int).Mul(baseFee, big.NewInt(2))
	return gasTipCap, gasFeeCap.Add(gasFeeCap, tip)
}

// SignRelayPayload produces the X-Flashbots-Signature header value for body:
// the EIP-191 signature of the hex keccak of the body, prefixed with the signer address.
func (s *Signer) SignRelayPayload(body []byte) (string, error) {
	hashed := ethcrypto.Keccak256Hash(body).Hex()
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(hashed)), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("signer: sign payload: %w", err)
	}
	return s.address.Hex() + ":" + hexutil.Encode(sig), nil
}

// RecoverRelaySigner returns the address that produced header for body.
func RecoverRelaySigner(header string, body []byte) (common.Address, error) {
	addrHex, sigHex, ok := strings.Cut(header, ":")
	if !ok {
		return common.Address{}, errors.New("signer: malformed signature header")
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: decode signature: %w", err)
	}
	hashed := ethcrypto.Keccak256Hash(body).Hex()
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(hashed)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: recover: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(*pub)
	if addr != common.HexToAddress(addrHex) {
		return common.Address{}, fmt.Errorf("signer: header names %s but signature is from %s", addrHex, addr.Hex())
	}
	return addr, nil
}
