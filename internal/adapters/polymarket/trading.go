package polymarket

// trading.go — order execution and balances for the trading core.
//
// TradingClient implements ports.Exchange and ports.PositionSource. Orders go
// to the CLOB through AuthClient; balances are read on-chain over Polygon RPC.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const (
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress   = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
)

var (
	erc20BalanceOf = mustABI(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`)
	erc1155BalanceOf = mustABI(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`)
)

func mustABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("polymarket: abi: " + err.Error())
	}
	return a
}

// contractCaller is the slice of ethclient used for balance reads.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TradingClient places orders and reads balances.
type TradingClient struct {
	auth *AuthClient
	rpc  contractCaller
}

// NewTradingClient creates a TradingClient. rpcURL is used for on-chain
// balance reads; an empty rpcURL leaves them disabled.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	tc := &TradingClient{auth: auth}
	if rpcURL == "" {
		return tc, nil
	}
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewTradingClient: dial rpc: %w", err)
	}
	tc.rpc = rpc
	return tc, nil
}

// PlaceOrder signs and submits a BUY limit order. A CLOB rejection comes back
// as an error carrying the exchange message so the caller can classify it.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.OrderResult, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderResult{}, fmt.Errorf("place order: %w", err)
	}
	creds, err := tc.auth.credentials()
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("place order: %w", err)
	}
	signed, err := tc.auth.buildSignedOrder(req.TokenID, req.Price, req.Size, req.NegRisk)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("place order: sign: %w", err)
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeGTC
	}
	body, err := json.Marshal(clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          "BUY",
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     creds.APIKey,
		OrderType: string(orderType),
	})
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("place order: marshal: %w", err)
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("place order: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.OrderResult{}, fmt.Errorf("place order: clob rejected: %s", resp.ErrorMsg)
	}
	return mapOrderResult(resp), nil
}

// GetOrderbookDepth reads the top of book of one token.
func (tc *TradingClient) GetOrderbookDepth(ctx context.Context, tokenID string) (domain.Depth, error) {
	return tc.auth.GetOrderbookDepth(ctx, tokenID)
}

// CancelAll cancels every open order of this wallet.
func (tc *TradingClient) CancelAll(ctx context.Context) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if err := tc.auth.doL2(ctx, http.MethodDelete, "/cancel-all", nil, nil); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	return nil
}

// GetBalance returns the on-chain USDC.e balance of the wallet.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	raw, err := tc.call(ctx, erc20BalanceOf, common.HexToAddress(usdcEAddress), tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return fromMicro(raw), nil
}

// TokenBalance returns the ERC-1155 balance of a conditional token, in shares.
func (tc *TradingClient) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return 0, fmt.Errorf("token balance: %w", err)
	}
	raw, err := tc.call(ctx, erc1155BalanceOf, common.HexToAddress(ctfAddress), tc.auth.address, id)
	if err != nil {
		return 0, fmt.Errorf("token balance %s: %w", tokenID, err)
	}
	return fromMicro(raw), nil
}

// call runs balanceOf on a contract and returns the uint256 result.
func (tc *TradingClient) call(ctx context.Context, contract abi.ABI, to common.Address, args ...any) (*big.Int, error) {
	if tc.rpc == nil {
		return nil, fmt.Errorf("no rpc configured")
	}
	data, err := contract.Pack("balanceOf", args...)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	out, err := tc.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	vals, err := contract.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("unpack: empty result")
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack: unexpected %T", vals[0])
	}
	return raw, nil
}

// parseTokenID accepts the decimal ids the CLOB uses and 0x-hex ids.
func parseTokenID(tokenID string) (*big.Int, error) {
	id := new(big.Int)
	if _, ok := id.SetString(tokenID, 10); ok {
		return id, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(tokenID, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	return id.SetBytes(b), nil
}

// fromMicro converts 6-decimal base units (USDC and CTF shares) to float.
func fromMicro(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return f
}
