// Package comet implements ledger.Ledger against an election ABCI
// application on a CometBFT chain. Reads are ABCI queries, writes are signed
// JSON transactions and events are Tx events carrying an "election" event.
package comet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cometbft/cometbft/crypto/secp256k1"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"ballotwatch/internal/ledger"
)

const (
	DefaultPollInterval = time.Second
	// DefaultStaleAfter is how long without a new block before live
	// subscriptions are failed so they get re-established.
	DefaultStaleAfter = 30 * time.Second

	subscriberPrefix = "ballotwatch"
)

// Config selects the node and signing key.
type Config struct {
	RPCURL string
	WSPath string
	// PrivateKey is a hex secp256k1 key. Without it the ledger is read-only.
	PrivateKey   string
	PollInterval time.Duration
	StaleAfter   time.Duration
}

// Ledger is a CometBFT-backed ledger.
type Ledger struct {
	cfg    Config
	client *rpchttp.HTTP
	key    secp256k1.PrivKey
	from   string
	log    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	nonce     uint64 // seeded from the clock at Dial
	lastBlock time.Time
	subs      map[*subscription]struct{}
}

var _ ledger.Ledger = (*Ledger)(nil)

// Dial creates and starts the RPC client.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Ledger, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	// rpchttp.New takes RPC base URL and WS path separately
	client, err := rpchttp.New(cfg.RPCURL, cfg.WSPath)
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	if err := client.Start(); err != nil {
		return nil, fmt.Errorf("start rpc client: %w", err)
	}

	l := &Ledger{
		cfg:       cfg,
		client:    client,
		log:       log.With().Str("component", "comet").Logger(),
		lastBlock: time.Now(),
		nonce:     uint64(time.Now().UnixNano()),
		subs:      make(map[*subscription]struct{}),
	}
	if cfg.PrivateKey != "" {
		l.key, l.from, err = parseKey(cfg.PrivateKey)
		if err != nil {
			_ = client.Stop()
			return nil, err
		}
	}

	wctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.watchdog(wctx)
	}()

	l.log.Info().Str("rpc", cfg.RPCURL).Str("signer", l.from).Msg("connected")
	return l, nil
}

// parseKey decodes a hex secp256k1 key and derives its 0x account address.
func parseKey(s string) (secp256k1.PrivKey, string, error) {
	bz, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(bz) != secp256k1.PrivKeySize {
		return nil, "", errors.New("private key must be 32 hex-encoded bytes")
	}
	ecdsaKey, err := ethcrypto.ToECDSA(bz)
	if err != nil {
		return nil, "", fmt.Errorf("parse private key: %w", err)
	}
	return secp256k1.PrivKey(bz), ethcrypto.PubkeyToAddress(ecdsaKey.PublicKey).Hex(), nil
}

// Viewer returns the signing account, or "" when read-only.
func (l *Ledger) Viewer() string {
	return l.from
}

// Read runs an ABCI query against /election/<fn> with JSON-encoded args.
func (l *Ledger) Read(ctx context.Context, fn ledger.Function, args ...any) (any, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	res, err := l.client.ABCIQuery(ctx, "/election/"+string(fn), data)
	if err != nil {
		return nil, err
	}
	if res.Response.Code != 0 {
		return nil, &ledger.RevertError{Reason: res.Response.Log}
	}
	return decodeValue(res.Response.Value)
}

// decodeValue normalizes a JSON query result: numbers become *big.Int and
// string arrays []string.
func decodeValue(bz []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(bz)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	switch t := v.(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(t.String(), 10)
		if !ok {
			return nil, fmt.Errorf("non-integer result %s", t)
		}
		return n, nil
	case []any:
		return ledger.AsStrings(t)
	}
	return v, nil
}

// Envelope is the signed transaction format understood by the election
// application.
type Envelope struct {
	Fn        string          `json:"fn"`
	Args      json.RawMessage `json:"args"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	PubKey    []byte          `json:"pub_key,omitempty"`
	Signature []byte          `json:"signature,omitempty"`
}

// SignBytes is the canonical encoding covered by the signature.
func (e Envelope) SignBytes() []byte {
	e.PubKey, e.Signature = nil, nil
	bz, _ := json.Marshal(e)
	return bz
}

// Write signs a transaction envelope and broadcasts it with CheckTx.
func (l *Ledger) Write(ctx context.Context, fn ledger.Function, args ...any) (ledger.Handle, error) {
	if l.key == nil {
		return "", errors.New("read-only ledger: no private key configured")
	}
	tx, err := l.envelope(fn, args)
	if err != nil {
		return "", err
	}
	res, err := l.client.BroadcastTxSync(ctx, tx)
	if err != nil {
		return "", err
	}
	if res.Code != 0 {
		return "", &ledger.RevertError{Reason: res.Log}
	}
	h := ledger.Handle("0x" + strings.ToLower(res.Hash.String()))
	l.log.Debug().Str("fn", string(fn)).Str("tx", string(h)).Msg("transaction sent")
	return h, nil
}

func (l *Ledger) envelope(fn ledger.Function, args []any) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	l.mu.Lock()
	l.nonce++
	env := Envelope{Fn: string(fn), Args: raw, From: l.from, Nonce: l.nonce}
	l.mu.Unlock()

	sig, err := l.key.Sign(env.SignBytes())
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	env.PubKey = l.key.PubKey().Bytes()
	env.Signature = sig
	return json.Marshal(env)
}

// AwaitConfirmation polls for the committed transaction until it is buried
// under confirmations blocks.
func (l *Ledger) AwaitConfirmation(ctx context.Context, h ledger.Handle, confirmations int) error {
	hash, err := hex.DecodeString(strings.TrimPrefix(string(h), "0x"))
	if err != nil {
		return fmt.Errorf("bad handle %q: %w", h, err)
	}
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, err := l.client.Tx(ctx, hash, false)
		switch {
		case err != nil:
			// Not committed yet, or a transient RPC failure.
			if ctx.Err() != nil {
				return ctx.Err()
			}
		case res.TxResult.Code != 0:
			return &ledger.RevertError{Reason: res.TxResult.Log}
		default:
			st, err := l.client.Status(ctx)
			if err == nil && confirmed(res.Height, st.SyncInfo.LatestBlockHeight, confirmations) {
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

func confirmed(height, head int64, confirmations int) bool {
	if confirmations <= 1 {
		return true
	}
	return head >= height+int64(confirmations-1)
}

// Close stops the watchdog and the RPC client.
func (l *Ledger) Close() error {
	l.cancel()
	l.wg.Wait()
	return l.client.Stop()
}
