package eventsource

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hupe1980/agentrelay/core"
)

// ChainReader is the subset of an EVM client the chain source needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ChainConfig configures a ChainSource.
type ChainConfig struct {
	// Network labels emitted events, e.g. "base" or "mainnet".
	Network string
	// Addresses restricts logs to these contracts. Empty means any.
	Addresses []string
	// Events lists event signatures such as
	// "Transfer(address,address,uint256)". Empty means any event.
	Events []string
	// Confirmations keeps this many recent blocks out of reach.
	Confirmations uint64
	// MaxRange caps the blocks scanned per poll. Zero means 2000.
	MaxRange uint64
}

// ChainSource turns contract logs into core.ChainEvent values.
type ChainSource struct {
	reader    ChainReader
	cfg       ChainConfig
	addresses []common.Address
	topics    map[common.Hash]string

	mu   sync.Mutex
	next uint64 // first block not yet scanned; zero until the first poll
	now  func() time.Time
}

// DialChain connects to an EVM JSON-RPC endpoint.
func DialChain(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, errors.New("chain rpc url must not be empty")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	return client, nil
}

// NewChainSource validates cfg and prepares the log filter.
func NewChainSource(reader ChainReader, cfg ChainConfig) (*ChainSource, error) {
	if reader == nil {
		return nil, errors.New("chain source needs a reader")
	}
	if cfg.MaxRange == 0 {
		cfg.MaxRange = 2000
	}

	s := &ChainSource{reader: reader, cfg: cfg, topics: make(map[common.Hash]string), now: time.Now}
	for _, addr := range cfg.Addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid contract address %q", addr)
		}
		s.addresses = append(s.addresses, common.HexToAddress(addr))
	}
	for _, sig := range cfg.Events {
		sig = strings.ReplaceAll(strings.TrimSpace(sig), " ", "")
		open := strings.IndexByte(sig, '(')
		if open <= 0 || !strings.HasSuffix(sig, ")") {
			return nil, fmt.Errorf("invalid event signature %q", sig)
		}
		s.topics[crypto.Keccak256Hash([]byte(sig))] = sig[:open]
	}
	return s, nil
}

// Fetch is a FetchFunc. The first call only records the chain head, so
// history before startup is not replayed.
func (s *ChainSource) Fetch(ctx context.Context) ([]core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read block number: %w", err)
	}
	if head < s.cfg.Confirmations {
		return nil, nil
	}
	safe := head - s.cfg.Confirmations

	if s.next == 0 {
		s.next = safe + 1
		return nil, nil
	}
	if s.next > safe {
		return nil, nil
	}

	to := safe
	if to-s.next+1 > s.cfg.MaxRange {
		to = s.next + s.cfg.MaxRange - 1
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(s.next),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: s.addresses,
	}
	if len(s.topics) > 0 {
		first := make([]common.Hash, 0, len(s.topics))
		for h := range s.topics {
			first = append(first, h)
		}
		q.Topics = [][]common.Hash{first}
	}

	logs, err := s.reader.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs %d-%d: %w", s.next, to, err)
	}
	s.next = to + 1

	events := make([]core.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		events = append(events, s.toEvent(l))
	}
	return events, nil
}

func (s *ChainSource) toEvent(l types.Log) core.ChainEvent {
	eventType := "unknown"
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	if len(l.Topics) > 0 {
		if name, ok := s.topics[l.Topics[0]]; ok {
			eventType = name
		}
	}
	block := l.BlockNumber
	return core.ChainEvent{
		Network:         s.cfg.Network,
		EventType:       eventType,
		ContractAddress: l.Address.Hex(),
		TxHash:          l.TxHash.Hex(),
		BlockNumber:     &block,
		Data: map[string]any{
			"topics":    topics,
			"data":      hexutil.Encode(l.Data),
			"log_index": l.Index,
		},
		Timestamp: s.now().UTC(),
	}
}

// NewChainPoller wraps a ChainSource in a Poller.
func NewChainPoller(name string, src *ChainSource, optFns ...func(o *PollerOptions)) *Poller {
	return NewPoller(name, src.Fetch, optFns...)
}
