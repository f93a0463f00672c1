// Package tn implements chain.Chain for the TN side. TN is not
// EVM-shaped, so unlike chain/other it talks through the bare
// go-ethereum JSON-RPC client (github.com/ethereum/go-ethereum/rpc)
// rather than ethclient, the same way the teacher's
// ethclient/ethclient_rollup.go drives rpc.BatchElem directly for
// calls ethclient itself doesn't expose.
package tn

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/tnbridge/gateway/chain"
)

// Client talks to the TN chain node over JSON-RPC.
type Client struct {
	rpc            *rpc.Client
	gatewayAddress string
	decimals       uint8
	log            log.Logger
}

// Config holds what Client needs to dial and authenticate.
type Config struct {
	RPCEndpoint    string
	RPCCredentials string
	GatewayAddress string
	Decimals       uint8
}

// Dial connects to cfg.RPCEndpoint.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	opts := []rpc.ClientOption{}
	if cfg.RPCCredentials != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+cfg.RPCCredentials))
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.RPCEndpoint, opts...)
	if err != nil {
		log.Error("unable to connect to TN RPC endpoint", "endpoint", cfg.RPCEndpoint, "error", err)
		return nil, fmt.Errorf("tn: dial %s: %w", cfg.RPCEndpoint, err)
	}
	log.Info("initialized TN RPC client", "endpoint", cfg.RPCEndpoint)

	return &Client{
		rpc:            rpcClient,
		gatewayAddress: cfg.GatewayAddress,
		decimals:       cfg.Decimals,
		log:            log.New("chain", "tn"),
	}, nil
}

type rpcTransaction struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"` // decimal string, raw (pre-decimals) units
	Attachment string `json:"attachment"`
}

type rpcBlock struct {
	Height       int64             `json:"height"`
	Transactions []rpcTransaction  `json:"transactions"`
}

func (c *Client) CurrentBlock(ctx context.Context) (int64, error) {
	var height int64
	if err := c.rpc.CallContext(ctx, &height, "tn_currentBlock"); err != nil {
		return 0, fmt.Errorf("tn: current block: %w", err)
	}
	return height, nil
}

func (c *Client) CurrentBalance(ctx context.Context) (*big.Int, error) {
	var balance string
	if err := c.rpc.CallContext(ctx, &balance, "tn_balance", c.gatewayAddress); err != nil {
		return nil, fmt.Errorf("tn: current balance: %w", err)
	}
	bal, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return nil, fmt.Errorf("tn: current balance: malformed amount %q", balance)
	}
	return bal, nil
}

func (c *Client) GetBlock(ctx context.Context, height int64) (chain.Block, error) {
	var b rpcBlock
	if err := c.rpc.CallContext(ctx, &b, "tn_getBlock", height); err != nil {
		return chain.Block{}, fmt.Errorf("tn: get block %d: %w", height, err)
	}

	out := chain.Block{Height: height}
	for _, t := range b.Transactions {
		if t.Recipient != c.gatewayAddress {
			continue
		}
		amount, ok := new(big.Int).SetString(t.Amount, 10)
		if !ok {
			c.log.Warn("malformed transaction amount, skipping", "tx", t.ID, "amount", t.Amount)
			continue
		}
		out.Transactions = append(out.Transactions, chain.Transaction{
			ID:         t.ID,
			Sender:     t.Sender,
			Amount:     amount,
			Attachment: decodeAttachment(t.Attachment),
		})
	}
	return out, nil
}

// decodeAttachment base58-decodes a transaction's memo/attachment
// payload into the opposite-chain target address it carries, the same
// base58.b58decode(tx['attachment']).decode() step the original
// project's tnChecker ran before validating the target address. If the
// attachment does not decode as base58, it is returned unchanged so
// downstream address validation rejects it as a malformed target
// (store.ReasonTxError) rather than silently treating it as absent.
func decodeAttachment(attachment string) string {
	if attachment == "" {
		return ""
	}
	decoded := base58.Decode(attachment)
	if len(decoded) == 0 {
		return attachment
	}
	return string(decoded)
}

// ValidateAddress reports whether address decodes as well-formed
// base58, mirroring the original Python project's use of base58 for
// both addresses and attachments.
func (c *Client) ValidateAddress(address string) bool {
	if address == "" {
		return false
	}
	decoded := base58.Decode(address)
	return len(decoded) > 0
}

func (c *Client) NormalizeAddress(address string) string {
	// Re-encoding through base58 canonicalizes case/padding the way the
	// original project's normalizeAddress did for the Other side; TN
	// addresses get the same treatment here to resolve the spec's open
	// question (c) in favor of symmetry.
	decoded := base58.Decode(address)
	if len(decoded) == 0 {
		return address
	}
	return base58.Encode(decoded)
}

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	var address string
	if err := c.rpc.CallContext(ctx, &address, "tn_newAddress"); err != nil {
		return "", fmt.Errorf("tn: new address: %w", err)
	}
	return address, nil
}

func (c *Client) SendTx(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	raw := amount.Shift(int32(c.decimals)).Round(0).BigInt()

	var result struct {
		TxID  string `json:"txId"`
		Error string `json:"error"`
	}
	if err := c.rpc.CallContext(ctx, &result, "tn_sendTx", to, raw.String()); err != nil {
		return "", fmt.Errorf("tn: send tx: %w", err)
	}
	if result.Error != "" {
		return "", &chain.RejectedError{Err: fmt.Errorf("tn: send tx rejected: %s", result.Error)}
	}
	c.log.Info("submitted outbound transaction", "to", to, "amount", raw.String(), "tx", result.TxID)
	return result.TxID, nil
}

func (c *Client) CheckTx(ctx context.Context, txID string) (int64, bool, error) {
	var result struct {
		Block int64 `json:"block"`
		Found bool  `json:"found"`
	}
	if err := c.rpc.CallContext(ctx, &result, "tn_txStatus", txID); err != nil {
		return 0, false, fmt.Errorf("tn: check tx: %w", err)
	}
	return result.Block, result.Found, nil
}

func (c *Client) VerifyTx(ctx context.Context, txID, from, to string) error {
	return c.rpc.CallContext(ctx, nil, "tn_verifyTx", txID, from, to)
}
