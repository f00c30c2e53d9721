package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/polywatch/engine/internal/store"
)

// USDC contract addresses on Polygon (bridged and native). Funding
// parents are derived from the earliest USDC transfers into a wallet.
var usdcContracts = []common.Address{
	common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
	common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
}

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// maxFundingParents bounds how many funding transfers are recorded per
// wallet, in transfer order.
const maxFundingParents = 5

// ChainClient fetches wallet facts from a Polygon JSON-RPC endpoint.
// Calls go through a client-side rate limiter; on primary failure the
// fallback endpoint (if configured) is tried once.
type ChainClient struct {
	primary  *ethclient.Client
	fallback *ethclient.Client
	limiter  *rate.Limiter
}

// NewChainClient dials the RPC endpoints. ratePerSec bounds upstream
// request rate; fallbackURL may be empty.
func NewChainClient(primaryURL, fallbackURL string, ratePerSec int) (*ChainClient, error) {
	if ratePerSec < 1 {
		ratePerSec = 1
	}

	primary, err := ethclient.Dial(primaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", primaryURL, err)
	}

	c := &ChainClient{
		primary: primary,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}

	if fallbackURL != "" {
		fb, err := ethclient.Dial(fallbackURL)
		if err != nil {
			slog.Warn("fallback_rpc_dial_failed", "url", fallbackURL, "error", err)
		} else {
			c.fallback = fb
		}
	}
	return c, nil
}

// Close releases the underlying RPC connections.
func (c *ChainClient) Close() {
	c.primary.Close()
	if c.fallback != nil {
		c.fallback.Close()
	}
}

// FetchWallet retrieves the wallet snapshot for address: lifetime tx
// count, first-seen time, and funding parents in transfer order.
func (c *ChainClient) FetchWallet(ctx context.Context, address string) (store.Wallet, error) {
	addr := common.HexToAddress(address)

	var nonce uint64
	err := c.do(ctx, func(cl *ethclient.Client) error {
		var err error
		nonce, err = cl.NonceAt(ctx, addr, nil)
		return err
	})
	if err != nil {
		return store.Wallet{}, fmt.Errorf("failed to fetch tx count for %s: %w", address, err)
	}

	wallet := store.Wallet{
		Address: strings.ToLower(addr.Hex()),
		TxCount: int(nonce),
	}

	// Funding provenance is best-effort: nonce alone is enough for
	// fresh-wallet detection, so transfer lookups must not fail the fetch.
	logs, err := c.incomingTransfers(ctx, addr)
	if err != nil {
		slog.Debug("funding_transfers_unavailable", "address", wallet.Address, "error", err)
		return wallet, nil
	}

	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		// The from address is the low 20 bytes of topic[1].
		from := strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex())
		if from != wallet.Address && !containsAddr(wallet.FundingParents, from) {
			wallet.FundingParents = append(wallet.FundingParents, from)
		}
		if len(wallet.FundingParents) >= maxFundingParents {
			break
		}
	}

	if len(logs) > 0 {
		if ts, err := c.blockTime(ctx, logs[0].BlockNumber); err == nil {
			wallet.FirstSeen = ts
		} else {
			slog.Debug("first_seen_unavailable", "address", wallet.Address, "error", err)
		}
	}

	return wallet, nil
}

// incomingTransfers lists USDC transfers into addr, earliest first.
func (c *ChainClient) incomingTransfers(ctx context.Context, addr common.Address) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		Addresses: usdcContracts,
		Topics: [][]common.Hash{
			{transferTopic},
			nil,
			{common.BytesToHash(addr.Bytes())},
		},
	}

	var logs []types.Log
	err := c.do(ctx, func(cl *ethclient.Client) error {
		var err error
		logs, err = cl.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// blockTime resolves a block number to its timestamp.
func (c *ChainClient) blockTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	var header *types.Header
	err := c.do(ctx, func(cl *ethclient.Client) error {
		var err error
		header, err = cl.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// do runs one rate-limited RPC call, trying the fallback endpoint when
// the primary fails.
func (c *ChainClient) do(ctx context.Context, call func(*ethclient.Client) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	err := call(c.primary)
	if err == nil || c.fallback == nil {
		return err
	}

	slog.Debug("rpc_primary_failed", "error", err)
	return call(c.fallback)
}

func containsAddr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
