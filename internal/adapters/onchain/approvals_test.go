package onchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeChain struct {
	mu        sync.Mutex
	approved  map[common.Address]bool     // erc1155 operator -> approved
	allowance map[common.Address]*big.Int // erc20 spender -> allowance
	sent      []*types.Transaction
	pending   int // receipts fail this many times first
	reverted  bool
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch *msg.To {
	case common.HexToAddress(ctfAddress):
		args, err := erc1155ABI.Methods["isApprovedForAll"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		return erc1155ABI.Methods["isApprovedForAll"].Outputs.Pack(f.approved[args[1].(common.Address)])
	case common.HexToAddress(usdcEAddress):
		args, err := erc20ABI.Methods["allowance"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		v := f.allowance[args[1].(common.Address)]
		if v == nil {
			v = big.NewInt(0)
		}
		return erc20ABI.Methods["allowance"].Outputs.Pack(v)
	}
	return nil, errors.New("unknown contract")
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	if f.reverted {
		return &types.Receipt{Status: types.ReceiptStatusFailed}, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func newTestApprover(t *testing.T, chain Chain) *Approver {
	t.Helper()
	a, err := NewApproverWithChain(chain, testKey)
	require.NoError(t, err)
	return a.WithPolling(time.Millisecond, time.Second)
}

func TestMissing_AllApproved(t *testing.T) {
	chain := &fakeChain{
		approved: map[common.Address]bool{
			common.HexToAddress(normalExchange):  true,
			common.HexToAddress(negRiskExchange): true,
			common.HexToAddress(negRiskAdapter):  true,
		},
		allowance: map[common.Address]*big.Int{
			common.HexToAddress(normalExchange):  maxUint256,
			common.HexToAddress(negRiskExchange): maxUint256,
		},
	}
	a := newTestApprover(t, chain)

	missing, err := a.Missing(context.Background())
	require.NoError(t, err)
	assert.Empty(t, missing)

	sent, err := a.EnsureApprovals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sent)
	assert.Empty(t, chain.sent)
}

func TestEnsureApprovals_SendsMissing(t *testing.T) {
	chain := &fakeChain{
		approved: map[common.Address]bool{common.HexToAddress(normalExchange): true},
		allowance: map[common.Address]*big.Int{
			common.HexToAddress(normalExchange):  maxUint256,
			common.HexToAddress(negRiskExchange): big.NewInt(5), // below the floor
		},
		pending: 2,
	}
	a := newTestApprover(t, chain)

	sent, err := a.EnsureApprovals(context.Background())
	require.NoError(t, err)
	require.Len(t, sent, 3)
	assert.Equal(t, "erc1155", sent[0].Kind)
	assert.Equal(t, negRiskExchange, sent[0].Operator)
	assert.Equal(t, "erc1155", sent[1].Kind)
	assert.Equal(t, negRiskAdapter, sent[1].Operator)
	assert.Equal(t, "erc20", sent[2].Kind)
	assert.Equal(t, negRiskExchange, sent[2].Operator)

	require.Len(t, chain.sent, 3)
	for i, tx := range chain.sent {
		assert.Equal(t, uint64(i), tx.Nonce())
		assert.Equal(t, int64(33_000_000_000), tx.GasPrice().Int64(), "gas price carries the 10% buffer")
		assert.Equal(t, sent[i].TxHash, tx.Hash().Hex())
	}
	assert.Equal(t, common.HexToAddress(ctfAddress), *chain.sent[0].To())
	assert.Equal(t, common.HexToAddress(usdcEAddress), *chain.sent[2].To())
}

func TestEnsureApprovals_Reverted(t *testing.T) {
	chain := &fakeChain{reverted: true}
	a := newTestApprover(t, chain)

	sent, err := a.EnsureApprovals(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
	assert.Empty(t, sent)
}

func TestNewApprover_BadKey(t *testing.T) {
	_, err := NewApproverWithChain(&fakeChain{}, "not-hex")
	assert.Error(t, err)
}
