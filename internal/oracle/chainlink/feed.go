// Package chainlink implements domain.PriceOracle against a Chainlink
// AggregatorV3 price feed over JSON-RPC.
package chainlink

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openlaunch/saled/internal/domain"
)

// aggregatorABI is the subset of the Chainlink AggregatorV3Interface the feed
// client needs: decimals() and latestRoundData().
const aggregatorABI = `[
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"}
]`

// Config holds the feed client's connection parameters.
type Config struct {
	RPCURL      string
	FeedAddress string
	// Timeout bounds each latestRoundData call. Zero means no extra bound
	// beyond the caller's context.
	Timeout time.Duration
}

// Feed reads the native-currency USD price from a Chainlink aggregator. The
// raw answer is normalized to 18 decimals so the rest of the system never
// sees the feed's own decimal convention.
type Feed struct {
	client   *ethclient.Client
	feed     common.Address
	abi      abi.ABI
	timeout  time.Duration
	decimals uint8
}

var _ domain.PriceOracle = (*Feed)(nil)

// New dials the RPC endpoint, resolves the feed's decimals, and returns a
// ready Feed.
func New(ctx context.Context, cfg Config) (*Feed, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("chainlink: parse aggregator abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainlink: dial %s: %w", cfg.RPCURL, err)
	}

	f := &Feed{
		client:  client,
		feed:    common.HexToAddress(cfg.FeedAddress),
		abi:     parsed,
		timeout: cfg.Timeout,
	}

	dec, err := f.fetchDecimals(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	f.decimals = dec

	return f, nil
}

// Close releases the underlying RPC connection.
func (f *Feed) Close() {
	f.client.Close()
}

// LatestPrice returns the most recent round from the aggregator, with the
// answer scaled to 18 decimals. A non-positive answer is returned as-is; the
// engine decides how to treat it.
func (f *Feed) LatestPrice(ctx context.Context) (domain.PriceRound, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	out, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return domain.PriceRound{}, fmt.Errorf("chainlink: latestRoundData: %w", err)
	}
	if len(out) != 5 {
		return domain.PriceRound{}, fmt.Errorf("chainlink: latestRoundData: got %d outputs", len(out))
	}

	roundID, ok := out[0].(*big.Int)
	if !ok {
		return domain.PriceRound{}, fmt.Errorf("chainlink: latestRoundData: bad roundId type %T", out[0])
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return domain.PriceRound{}, fmt.Errorf("chainlink: latestRoundData: bad answer type %T", out[1])
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok {
		return domain.PriceRound{}, fmt.Errorf("chainlink: latestRoundData: bad updatedAt type %T", out[3])
	}

	return domain.PriceRound{
		Answer:    normalize(answer, f.decimals),
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
		RoundID:   roundID,
	}, nil
}

func (f *Feed) fetchDecimals(ctx context.Context) (uint8, error) {
	out, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, fmt.Errorf("chainlink: decimals: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("chainlink: decimals: got %d outputs", len(out))
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chainlink: decimals: bad type %T", out[0])
	}
	if dec > 18 {
		return 0, fmt.Errorf("chainlink: decimals: feed reports %d, max supported is 18", dec)
	}
	return dec, nil
}

// call packs a zero-argument method, executes it via eth_call, and unpacks
// the outputs.
func (f *Feed) call(ctx context.Context, method string) ([]any, error) {
	data, err := f.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	res, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &f.feed, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	return f.abi.Unpack(method, res)
}

// normalize rescales a raw feed answer with the given decimals to 18
// decimals. Sign is preserved.
func normalize(answer *big.Int, decimals uint8) *big.Int {
	if decimals == 18 {
		return new(big.Int).Set(answer)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
	return new(big.Int).Mul(answer, scale)
}
