package onchain

// approvals.go — preflight de aprobaciones on-chain para operar en el CLOB.
//
// Sin estas aprobaciones el CLOB rechaza cada BUY con "not enough balance /
// allowance":
//   - ERC1155 setApprovalForAll del CTF hacia los exchanges
//   - ERC20 approve de USDC.e hacia los exchanges

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	polygonChainID = int64(137)

	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress   = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	approvalGasLimit = uint64(80_000)
)

var (
	erc1155ABI = mustABI(`[
		{"name":"setApprovalForAll","type":"function",
		 "inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
		{"name":"isApprovedForAll","type":"function",
		 "inputs":[{"name":"account","type":"address"},{"name":"operator","type":"address"}],
		 "outputs":[{"name":"","type":"bool"}]}
	]`)
	erc20ABI = mustABI(`[
		{"name":"approve","type":"function",
		 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
		 "outputs":[{"name":"","type":"bool"}]},
		{"name":"allowance","type":"function",
		 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	// 1M USDC.e en unidades de 6 decimales
	minAllowance = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000))
)

func mustABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("onchain: abi: " + err.Error())
	}
	return a
}

// Chain es el subconjunto de ethclient que usa el preflight.
type Chain interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Approval es una aprobación que falta o que se ha enviado.
type Approval struct {
	Kind     string // erc1155 | erc20
	Operator string
	TxHash   string
}

// Approver comprueba y, si se le pide, envía las aprobaciones que faltan.
type Approver struct {
	chain     Chain
	key       *ecdsa.PrivateKey
	address   common.Address
	pollEvery time.Duration
	timeout   time.Duration
}

// NewApprover conecta con el RPC de Polygon.
func NewApprover(rpcURL, privateKeyHex string) (*Approver, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewApprover: dial rpc: %w", err)
	}
	return NewApproverWithChain(client, privateKeyHex)
}

// NewApproverWithChain permite inyectar el cliente (tests).
func NewApproverWithChain(chain Chain, privateKeyHex string) (*Approver, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewApprover: invalid private key: %w", err)
	}
	return &Approver{
		chain:     chain,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		pollEvery: 3 * time.Second,
		timeout:   60 * time.Second,
	}, nil
}

// WithPolling ajusta el sondeo de receipts (tests).
func (a *Approver) WithPolling(every, timeout time.Duration) *Approver {
	a.pollEvery = every
	a.timeout = timeout
	return a
}

// Missing devuelve las aprobaciones que faltan sin enviar nada.
func (a *Approver) Missing(ctx context.Context) ([]Approval, error) {
	var out []Approval
	for _, op := range []string{normalExchange, negRiskExchange, negRiskAdapter} {
		ok, err := a.isApprovedForAll(ctx, common.HexToAddress(op))
		if err != nil {
			return nil, fmt.Errorf("onchain.Missing: erc1155 %s: %w", op, err)
		}
		if !ok {
			out = append(out, Approval{Kind: "erc1155", Operator: op})
		}
	}
	for _, ex := range []string{normalExchange, negRiskExchange} {
		allowance, err := a.allowance(ctx, common.HexToAddress(ex))
		if err != nil {
			return nil, fmt.Errorf("onchain.Missing: erc20 %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) < 0 {
			out = append(out, Approval{Kind: "erc20", Operator: ex})
		}
	}
	return out, nil
}

// EnsureApprovals envía una transacción por cada aprobación que falte y
// espera a que se mine. Devuelve las enviadas.
func (a *Approver) EnsureApprovals(ctx context.Context) ([]Approval, error) {
	missing, err := a.Missing(ctx)
	if err != nil {
		return nil, err
	}
	sent := make([]Approval, 0, len(missing))
	for _, m := range missing {
		op := common.HexToAddress(m.Operator)
		var (
			to   common.Address
			data []byte
		)
		switch m.Kind {
		case "erc1155":
			to = common.HexToAddress(ctfAddress)
			data, err = erc1155ABI.Pack("setApprovalForAll", op, true)
		default:
			to = common.HexToAddress(usdcEAddress)
			data, err = erc20ABI.Pack("approve", op, maxUint256)
		}
		if err != nil {
			return sent, fmt.Errorf("onchain.EnsureApprovals: pack %s: %w", m.Kind, err)
		}
		slog.Info("onchain: sending approval", "kind", m.Kind, "operator", m.Operator)
		hash, err := a.send(ctx, to, data)
		if err != nil {
			return sent, fmt.Errorf("onchain.EnsureApprovals: %s %s: %w", m.Kind, m.Operator, err)
		}
		m.TxHash = hash.Hex()
		sent = append(sent, m)
		slog.Info("onchain: approval confirmed", "kind", m.Kind, "operator", m.Operator, "tx", m.TxHash)
	}
	return sent, nil
}

func (a *Approver) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	vals, err := a.call(ctx, erc1155ABI, common.HexToAddress(ctfAddress), "isApprovedForAll", a.address, operator)
	if err != nil {
		return false, err
	}
	ok, isBool := vals[0].(bool)
	if !isBool {
		return false, fmt.Errorf("unexpected %T", vals[0])
	}
	return ok, nil
}

func (a *Approver) allowance(ctx context.Context, spender common.Address) (*big.Int, error) {
	vals, err := a.call(ctx, erc20ABI, common.HexToAddress(usdcEAddress), "allowance", a.address, spender)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %T", vals[0])
	}
	return v, nil
}

func (a *Approver) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := a.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return vals, nil
}

// send firma y envía una transacción legacy y espera su receipt.
func (a *Approver) send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := a.chain.PendingNonceAt(ctx, a.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := a.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	// +10% para entrar antes en bloque
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(11)), big.NewInt(10))

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      approvalGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), a.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := a.chain.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}

	receipt, err := a.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return common.Hash{}, fmt.Errorf("wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return signed.Hash(), nil
}

func (a *Approver) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ticker := time.NewTicker(a.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := a.chain.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // todavía sin minar
			}
			return receipt, nil
		}
	}
}
