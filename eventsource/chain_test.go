package eventsource

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

type fakeChain struct {
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
	err     error
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return f.head, f.err }

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

const token = "0x00000000000000000000000000000000000000aa"

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// -------------------- ChainSource Tests --------------------

func TestNewChainSource_Validation(t *testing.T) {
	_, err := NewChainSource(nil, ChainConfig{})
	assert.Error(t, err)

	_, err = NewChainSource(&fakeChain{}, ChainConfig{Addresses: []string{"not-an-address"}})
	assert.Error(t, err)

	_, err = NewChainSource(&fakeChain{}, ChainConfig{Events: []string{"Transfer"}})
	assert.Error(t, err)
}

func TestChainSource_Fetch(t *testing.T) {
	chain := &fakeChain{head: 100}
	src, err := NewChainSource(chain, ChainConfig{
		Network:   "base",
		Addresses: []string{token},
		Events:    []string{"Transfer(address, address, uint256)"},
	})
	require.NoError(t, err)
	ctx := context.Background()

	// first poll anchors at the head
	events, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, chain.queries)

	chain.head = 105
	chain.logs = []types.Log{
		{Address: common.HexToAddress(token), Topics: []common.Hash{transferTopic}, Data: []byte{0x05}, BlockNumber: 100, TxHash: common.HexToHash("0x01")},
		{Address: common.HexToAddress(token), Topics: []common.Hash{transferTopic}, Data: []byte{0x05}, BlockNumber: 103, TxHash: common.HexToHash("0x02")},
		{Address: common.HexToAddress(token), Topics: []common.Hash{common.HexToHash("0xbeef")}, BlockNumber: 104, TxHash: common.HexToHash("0x03")},
		{Address: common.HexToAddress(token), Topics: []common.Hash{transferTopic}, BlockNumber: 104, Removed: true},
	}

	events, err = src.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)

	q := chain.queries[0]
	assert.Equal(t, uint64(101), q.FromBlock.Uint64())
	assert.Equal(t, uint64(105), q.ToBlock.Uint64())
	assert.Equal(t, []common.Address{common.HexToAddress(token)}, q.Addresses)
	assert.Equal(t, [][]common.Hash{{transferTopic}}, q.Topics)

	ev := events[0].(core.ChainEvent)
	assert.Equal(t, "base", ev.Network)
	assert.Equal(t, "Transfer", ev.EventType)
	assert.Equal(t, common.HexToHash("0x02").Hex(), ev.TxHash)
	assert.Equal(t, uint64(103), *ev.BlockNumber)
	assert.Equal(t, "0x05", ev.Data["data"])

	assert.Equal(t, "unknown", events[1].(core.ChainEvent).EventType)

	// nothing new
	events, err = src.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Len(t, chain.queries, 1)
}

func TestChainSource_ConfirmationsAndRange(t *testing.T) {
	chain := &fakeChain{head: 50}
	src, err := NewChainSource(chain, ChainConfig{Confirmations: 10, MaxRange: 5})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = src.Fetch(ctx)
	require.NoError(t, err)

	chain.head = 70
	_, err = src.Fetch(ctx)
	require.NoError(t, err)
	_, err = src.Fetch(ctx)
	require.NoError(t, err)

	require.Len(t, chain.queries, 2)
	assert.Equal(t, uint64(41), chain.queries[0].FromBlock.Uint64())
	assert.Equal(t, uint64(45), chain.queries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(46), chain.queries[1].FromBlock.Uint64())
	assert.Nil(t, chain.queries[0].Topics)
}

func TestChainSource_ReaderError(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc down")}
	src, err := NewChainSource(chain, ChainConfig{})
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	assert.ErrorContains(t, err, "rpc down")
}
