// Package evm implements ledger.Ledger against an EVM chain through a
// JSON-RPC endpoint. Event subscriptions need a websocket endpoint.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

// DefaultPollInterval is how often receipts are polled while awaiting
// confirmation.
const DefaultPollInterval = 2 * time.Second

// Config selects the chain, contract and signing key.
type Config struct {
	RPCURL   string
	Contract string
	// ChainID is queried from the node when zero.
	ChainID uint64
	// PrivateKey is a hex secp256k1 key. Without it the ledger is read-only.
	PrivateKey   string
	PollInterval time.Duration
}

// Ledger talks to the deployed voting contract.
type Ledger struct {
	client  *ethclient.Client
	codec   *codec
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	poll    time.Duration
	log     zerolog.Logger
}

var _ ledger.Ledger = (*Ledger)(nil)

// Dial connects to the node and binds the contract.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Ledger, error) {
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	l := &Ledger{
		client: client,
		poll:   cfg.PollInterval,
		log:    log.With().Str("component", "evm").Logger(),
	}
	if l.poll <= 0 {
		l.poll = DefaultPollInterval
	}
	l.codec, err = newCodec(common.HexToAddress(cfg.Contract), client)
	if err != nil {
		client.Close()
		return nil, err
	}

	if cfg.ChainID != 0 {
		l.chainID = new(big.Int).SetUint64(cfg.ChainID)
	} else {
		l.chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}

	if cfg.PrivateKey != "" {
		l.key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		l.from = crypto.PubkeyToAddress(l.key.PublicKey)
	}

	l.log.Info().Str("contract", cfg.Contract).Str("chain_id", l.chainID.String()).Str("signer", l.Viewer()).Msg("connected")
	return l, nil
}

// Viewer returns the signing account, or "" when read-only.
func (l *Ledger) Viewer() string {
	if l.key == nil {
		return ""
	}
	return l.from.Hex()
}

// Read calls a view function and returns its single result.
func (l *Ledger) Read(ctx context.Context, fn ledger.Function, args ...any) (any, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx, From: l.from}
	if err := l.codec.contract.Call(opts, &out, string(fn), l.codec.args(fn, args)...); err != nil {
		return nil, revertFrom(err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no value", fn)
	}
	return out[0], nil
}

// Write signs and sends a transaction and returns its hash.
func (l *Ledger) Write(ctx context.Context, fn ledger.Function, args ...any) (ledger.Handle, error) {
	if l.key == nil {
		return "", errors.New("read-only ledger: no private key configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return "", err
	}
	opts.Context = ctx
	tx, err := l.codec.contract.Transact(opts, string(fn), l.codec.args(fn, args)...)
	if err != nil {
		return "", revertFrom(err)
	}
	l.log.Debug().Str("fn", string(fn)).Str("tx", tx.Hash().Hex()).Msg("transaction sent")
	return ledger.Handle(tx.Hash().Hex()), nil
}

// AwaitConfirmation polls for the receipt until it is buried under
// confirmations blocks. A failed receipt is reported as a revert.
func (l *Ledger) AwaitConfirmation(ctx context.Context, h ledger.Handle, confirmations int) error {
	hash := common.HexToHash(string(h))
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound):
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Debug().Err(err).Str("tx", string(h)).Msg("receipt lookup failed")
		case receipt.Status == types.ReceiptStatusFailed:
			return &ledger.RevertError{}
		default:
			head, err := l.client.BlockNumber(ctx)
			if err == nil && confirmed(receipt.BlockNumber.Uint64(), head, confirmations) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// confirmed reports whether a receipt mined in block has the required
// number of confirmations at head; the mining block counts as the first.
func confirmed(block, head uint64, confirmations int) bool {
	if confirmations <= 1 {
		return true
	}
	return head >= block+uint64(confirmations-1)
}

// Close disconnects from the node.
func (l *Ledger) Close() error {
	l.client.Close()
	return nil
}

// args converts the arguments of fn to the types its ABI inputs expect:
// strings passed for address parameters become common.Address. Everything
// else, including address-shaped strings for string parameters, is passed
// through.
func (c *codec) args(fn ledger.Function, args []any) []any {
	var inputs abi.Arguments
	if m, ok := c.abi.Methods[string(fn)]; ok {
		inputs = m.Inputs
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
		if i >= len(inputs) || inputs[i].Type.T != abi.AddressTy {
			continue
		}
		if s, ok := a.(string); ok && election.IsAddress(s) {
			out[i] = common.HexToAddress(s)
		}
	}
	return out
}

// revertFrom turns a node error carrying "execution reverted" into a
// ledger.RevertError, decoding the Error(string) reason when present.
func revertFrom(err error) error {
	if !strings.Contains(err.Error(), "execution reverted") {
		return err
	}
	rerr := &ledger.RevertError{}
	var de rpc.DataError
	if errors.As(err, &de) {
		if data, ok := de.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(data)); uerr == nil {
				rerr.Reason = reason
			}
		}
	}
	return rerr
}
