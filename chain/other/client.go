// Package other implements chain.Chain for the EVM-style "Other" side
// by wrapping the real go-ethereum ethclient.Client, the same client
// the teacher's node/node_rollup.go dials
// ("github.com/ethereum/go-ethereum/ethclient").
package other

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/tnbridge/gateway/chain"
)

// Client talks to an EVM-compatible chain over JSON-RPC.
type Client struct {
	rpc            *ethclient.Client
	gatewayAddress common.Address
	signerKey      *ecdsa.PrivateKey
	chainID        *big.Int
	decimals       uint8
	log            log.Logger
}

// Config is the minimal set of options Client needs beyond the shared
// config.Side fields (the signing key is handled out of band from the
// JSON config, e.g. an env var or keystore file, and passed in here).
type Config struct {
	RPCEndpoint    string
	GatewayAddress string
	SignerKeyHex   string // hex-encoded ECDSA private key; empty disables SendTx
	ChainID        int64
	Decimals       uint8
}

// Dial connects to cfg.RPCEndpoint and returns a ready Client.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcClient, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		log.Error("unable to connect to Other RPC endpoint", "endpoint", cfg.RPCEndpoint, "error", err)
		return nil, fmt.Errorf("other: dial %s: %w", cfg.RPCEndpoint, err)
	}
	log.Info("initialized Other RPC client", "endpoint", cfg.RPCEndpoint)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = rpcClient.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("other: fetch chain id: %w", err)
		}
	}

	c := &Client{
		rpc:            rpcClient,
		gatewayAddress: common.HexToAddress(cfg.GatewayAddress),
		chainID:        chainID,
		decimals:       cfg.Decimals,
		log:            log.New("chain", "other"),
	}

	if cfg.SignerKeyHex != "" {
		key, err := crypto.HexToECDSA(cfg.SignerKeyHex)
		if err != nil {
			return nil, fmt.Errorf("other: parse signer key: %w", err)
		}
		c.signerKey = key
	}

	return c, nil
}

func (c *Client) CurrentBlock(ctx context.Context) (int64, error) {
	h, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("other: current block: %w", err)
	}
	return int64(h), nil
}

func (c *Client) CurrentBalance(ctx context.Context) (*big.Int, error) {
	bal, err := c.rpc.BalanceAt(ctx, c.gatewayAddress, nil)
	if err != nil {
		return nil, fmt.Errorf("other: current balance: %w", err)
	}
	return bal, nil
}

func (c *Client) GetBlock(ctx context.Context, height int64) (chain.Block, error) {
	block, err := c.rpc.BlockByNumber(ctx, big.NewInt(height))
	if err != nil {
		return chain.Block{}, fmt.Errorf("other: get block %d: %w", height, err)
	}

	out := chain.Block{Height: height}
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil || *to != c.gatewayAddress {
			continue
		}

		sender, err := c.senderOf(tx)
		if err != nil {
			c.log.Warn("could not recover sender", "tx", tx.Hash().Hex(), "error", err)
			continue
		}

		out.Transactions = append(out.Transactions, chain.Transaction{
			ID:         tx.Hash().Hex(),
			Sender:     sender,
			Amount:     tx.Value(),
			Attachment: string(tx.Data()),
		})
	}
	return out, nil
}

func (c *Client) senderOf(tx *types.Transaction) (string, error) {
	signer := types.LatestSignerForChainID(c.chainID)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return "", err
	}
	return from.Hex(), nil
}

func (c *Client) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (c *Client) NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("other: generate address: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func (c *Client) SendTx(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if c.signerKey == nil {
		return "", fmt.Errorf("other: send tx: no signing key configured")
	}

	raw := amount.Shift(int32(c.decimals)).Round(0).BigInt()

	from := crypto.PubkeyToAddress(c.signerKey.PublicKey)
	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("other: nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("other: gas price: %w", err)
	}

	toAddr := common.HexToAddress(to)
	tx := types.NewTransaction(nonce, toAddr, raw, 21000, gasPrice, nil)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.signerKey)
	if err != nil {
		return "", fmt.Errorf("other: sign tx: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		// A JSON-RPC error response means the node evaluated and
		// definitively rejected the signed transaction (insufficient
		// funds, nonce too low, underpriced, etc): a chain-level
		// rejection. Any other failure (transport, timeout) is ambiguous.
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return "", &chain.RejectedError{Err: fmt.Errorf("other: broadcast tx: %w", err)}
		}
		return "", fmt.Errorf("other: broadcast tx: %w", err)
	}

	c.log.Info("submitted outbound transaction", "to", to, "amount", raw.String(), "tx", signed.Hash().Hex())
	return signed.Hash().Hex(), nil
}

func (c *Client) CheckTx(ctx context.Context, txID string) (int64, bool, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		return 0, false, nil
	}
	return receipt.BlockNumber.Int64(), true, nil
}

func (c *Client) VerifyTx(ctx context.Context, txID, from, to string) error {
	return nil
}
