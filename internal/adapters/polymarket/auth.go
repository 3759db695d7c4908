package polymarket

// auth.go — Polymarket CLOB authenticated client.
//
// Two-level authentication:
//   L1: EIP-712 signature with the wallet key derives the API credentials
//   L2: HMAC-SHA256 over every authenticated request

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
)

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	// zero taker = public order
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
	clobAuthDomainSeparator = crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(clobDomainName)),
		crypto.Keccak256([]byte(clobDomainVersion)),
		common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32),
	)
)

// apiCredentials holds the CLOB API credentials derived from a wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient wraps the base Client with L1/L2 auth.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	orderBuilder builder.ExchangeOrderBuilder
	now          func() time.Time

	mu    sync.Mutex
	creds *apiCredentials
}

// NewAuthClient creates an authenticated client.
// privateKeyHex is the Polygon private key, with or without 0x prefix.
func NewAuthClient(clobBase, gammaBase, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewAuthClient: invalid private key: %w", err)
	}
	return &AuthClient{
		Client:       NewClient(clobBase, gammaBase),
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
		now:          time.Now,
	}, nil
}

// Address returns the wallet address.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// EnsureCreds derives the API credentials via L1 auth once and caches them.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds != nil {
		return nil
	}

	var creds apiCredentials
	err := ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Request, error) {
		ts := strconv.FormatInt(ac.now().Unix(), 10)
		sig, err := ac.signClobAuth(ts, 0)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("POLY_ADDRESS", ac.address.Hex())
		req.Header.Set("POLY_SIGNATURE", sig)
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_NONCE", "0")
		return req, nil
	}, &creds)
	if err != nil {
		return fmt.Errorf("polymarket.EnsureCreds: %w", err)
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return fmt.Errorf("polymarket.EnsureCreds: empty credentials")
	}
	ac.creds = &creds
	return nil
}

func (ac *AuthClient) credentials() (apiCredentials, error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds == nil {
		return apiCredentials{}, fmt.Errorf("polymarket: credentials not derived yet")
	}
	return *ac.creds, nil
}

// signClobAuth signs the ClobAuth EIP-712 typed data for L1 auth.
func (ac *AuthClient) signClobAuth(timestamp string, nonce int64) (string, error) {
	structHash := crypto.Keccak256Hash(
		clobAuthTypeHash.Bytes(),
		common.LeftPadBytes(ac.address.Bytes(), 32),
		crypto.Keccak256([]byte(timestamp)),
		common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32),
		crypto.Keccak256([]byte(clobAuthMessage)),
	)
	digest := crypto.Keccak256Hash([]byte{0x19, 0x01}, clobAuthDomainSeparator.Bytes(), structHash.Bytes())

	sig, err := crypto.Sign(digest.Bytes(), ac.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign clob auth: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// l2Headers returns the HMAC headers for an authenticated call.
func l2Headers(creds apiCredentials, address, method, path, body string, ts int64) (map[string]string, error) {
	secret, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	tsStr := strconv.FormatInt(ts, 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(tsStr + strings.ToUpper(method) + path + body))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
		"POLY_TIMESTAMP":  tsStr,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

// doL2 executes an authenticated request. Headers are rebuilt on every retry
// so the signed timestamp stays fresh.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, body []byte, out any) error {
	creds, err := ac.credentials()
	if err != nil {
		return err
	}
	return ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Request, error) {
		headers, err := l2Headers(creds, ac.address.Hex(), method, path, string(body), ac.now().Unix())
		if err != nil {
			return nil, err
		}
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}, out)
}

// orderAmounts converts a BUY of shares at price into the signed integer
// amounts (6 decimals). Shares are truncated to the 0.01 lot and prices carry
// at most 4 decimals, so makerAmount == price × takerAmount holds exactly,
// which the CLOB verifies.
func orderAmounts(price, shares float64) (maker, taker *big.Int, err error) {
	p := decimal.NewFromFloat(price).Round(4)
	s := decimal.NewFromFloat(shares).Truncate(2)
	if !p.IsPositive() || !s.IsPositive() {
		return nil, nil, fmt.Errorf("invalid amounts: %.4f shares @ %.4f", shares, price)
	}
	taker = s.Shift(6).BigInt()
	maker = s.Mul(p).Shift(6).BigInt()
	if maker.Sign() <= 0 {
		return nil, nil, fmt.Errorf("invalid amounts: %.4f shares @ %.4f", shares, price)
	}
	return maker, taker, nil
}

// buildSignedOrder creates an EIP-712 signed BUY order for shares at price.
func (ac *AuthClient) buildSignedOrder(tokenID string, price, shares float64, negRisk bool) (*gomodel.SignedOrder, error) {
	maker, taker, err := orderAmounts(price, shares)
	if err != nil {
		return nil, err
	}
	var contract gomodel.VerifyingContract = gomodel.CTFExchange
	if negRisk {
		contract = gomodel.NegRiskCTFExchange
	}
	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, &gomodel.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          gomodel.BUY,
		SignatureType: gomodel.EOA,
	}, contract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}
