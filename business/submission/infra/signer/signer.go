// Package signer holds the local key that signs executor transactions and
// authenticates relay requests.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	exdomain "github.com/fd1az/mev-arbitrage/business/execution/domain"
	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// Local signs with an in-process private key.
type Local struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocal parses a hex private key, with or without 0x.
func NewLocal(hexKey string) (*Local, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithCause(err),
			apperror.WithContext("invalid signer key"))
	}
	return &Local{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// FromEnv loads the key from the named environment variable.
func FromEnv(name string) (*Local, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext(fmt.Sprintf("signer key env %s is empty", name)))
	}
	return NewLocal(v)
}

// Address is the signing account.
func (l *Local) Address() common.Address { return l.addr }

// SignPlan wraps the plan's calldata in an EIP-1559 transaction to the
// executor and signs it.
func (l *Local) SignPlan(plan exdomain.Plan, nonce uint64) (*types.Transaction, error) {
	executor := plan.Executor()
	chainID := new(big.Int).SetUint64(plan.ChainID())
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: plan.MaxPriorityFeePerGas(),
		GasFeeCap: plan.MaxFeePerGas(),
		Gas:       plan.GasLimit(),
		To:        &executor,
		Value:     new(big.Int),
		Data:      plan.Calldata(),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), l.key)
	if err != nil {
		return nil, apperror.New(apperror.CodeSigningFailed,
			apperror.WithCause(err),
			apperror.WithContext(plan.OpportunityID()))
	}
	return signed, nil
}

// SignPayload produces the relay auth header value
// "<address>:<signature>" over the text hash of keccak(body).
func (l *Local) SignPayload(body []byte) (string, error) {
	digest := accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(body))))
	sig, err := crypto.Sign(digest, l.key)
	if err != nil {
		return "", apperror.New(apperror.CodeSigningFailed, apperror.WithCause(err))
	}
	return l.addr.Hex() + ":" + hexutil.Encode(sig), nil
}
