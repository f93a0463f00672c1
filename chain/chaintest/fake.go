// Package chaintest provides an in-memory chain.Chain double for unit
// tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tnbridge/gateway/chain"
)

// Chain is a scriptable, in-memory chain.Chain implementation: blocks
// are preloaded by the test, and every outbound SendTx is recorded for
// later assertions.
type Chain struct {
	mu sync.Mutex

	tip     int64
	blocks  map[int64]chain.Block
	balance *big.Int

	Sent        []SentTx
	NextTxID    int
	SendErr     error
	confirmedAt map[string]int64 // txID -> included block
}

// SentTx records one outbound transfer Chain.SendTx produced.
type SentTx struct {
	TxID   string
	To     string
	Amount decimal.Decimal
}

// New builds a Chain with no blocks and a zero balance.
func New() *Chain {
	return &Chain{
		blocks:      make(map[int64]chain.Block),
		balance:     big.NewInt(0),
		confirmedAt: make(map[string]int64),
	}
}

// SetTip sets the chain's current tip height.
func (c *Chain) SetTip(height int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = height
}

// SetBalance sets the gateway wallet's raw-unit balance.
func (c *Chain) SetBalance(balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = balance
}

// PutBlock registers the transaction set for height.
func (c *Chain) PutBlock(height int64, txs ...chain.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[height] = chain.Block{Height: height, Transactions: txs}
}

// ConfirmAt records that txID is considered included at block height,
// for CheckTx to report.
func (c *Chain) ConfirmAt(txID string, height int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmedAt[txID] = height
}

func (c *Chain) CurrentBlock(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tip, nil
}

func (c *Chain) CurrentBalance(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *Chain) GetBlock(ctx context.Context, height int64) (chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[height], nil
}

func (c *Chain) ValidateAddress(address string) bool {
	return address != "" && address != "invalid"
}

func (c *Chain) NormalizeAddress(address string) string {
	return address
}

func (c *Chain) GetNewAddress(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NextTxID++
	return fmt.Sprintf("addr-%d", c.NextTxID), nil
}

func (c *Chain) SendTx(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return "", c.SendErr
	}

	c.NextTxID++
	txID := fmt.Sprintf("tx-%d", c.NextTxID)
	c.Sent = append(c.Sent, SentTx{TxID: txID, To: to, Amount: amount})
	return txID, nil
}

func (c *Chain) CheckTx(ctx context.Context, txID string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	height, ok := c.confirmedAt[txID]
	return height, ok, nil
}

func (c *Chain) VerifyTx(ctx context.Context, txID, from, to string) error {
	return nil
}
