package web3

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
)

// FaucetTokens is the number of whole tokens sent by Faucet.
const FaucetTokens = 100

// TokenID returns the identifier the EncryptedERC contract assigned to the
// underlying token.
func (c *Contracts) TokenID(ctx context.Context) (*big.Int, error) {
	return call[*big.Int](ctx, c.encryptedERC, "getTokenId", c.addresses.Token)
}

// TokenInfo returns the metadata of the underlying token.
func (c *Contracts) TokenInfo(ctx context.Context) (*ledger.TokenInfo, error) {
	name, err := call[string](ctx, c.token, "name")
	if err != nil {
		return nil, err
	}
	symbol, err := call[string](ctx, c.token, "symbol")
	if err != nil {
		return nil, err
	}
	decimals, err := call[uint8](ctx, c.token, "decimals")
	if err != nil {
		return nil, err
	}
	return &ledger.TokenInfo{
		Address:  c.addresses.Token,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}, nil
}

// Allowance returns the amount of tokens of owner the EncryptedERC contract
// is allowed to move.
func (c *Contracts) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return call[*big.Int](ctx, c.token, "allowance", owner, c.addresses.EncryptedERC)
}

// PublicBalanceOf returns the ERC20 balance of addr.
func (c *Contracts) PublicBalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	return call[*big.Int](ctx, c.token, "balanceOf", addr)
}

// SubmitApproval allows the EncryptedERC contract to move amount tokens of
// the wallet.
func (c *Contracts) SubmitApproval(ctx context.Context, w ledger.Wallet, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, w, c.token, "approve", c.addresses.EncryptedERC, amount)
}

// SubmitDeposit converts amount public tokens of the wallet into shielded
// balance. The public signals of the proof carry the encrypted amount.
func (c *Contracts) SubmitDeposit(ctx context.Context, w ledger.Wallet, amount *big.Int,
	proof *ledger.Proof,
) (common.Hash, error) {
	if proof == nil {
		return common.Hash{}, fmt.Errorf("missing deposit proof")
	}
	return c.transact(ctx, w, c.encryptedERC, "deposit", amount, c.addresses.Token, proof.PublicSignals)
}

// SubmitWithdraw converts amount shielded tokens of the wallet back into
// public balance.
func (c *Contracts) SubmitWithdraw(ctx context.Context, w ledger.Wallet, amount *big.Int,
	proof *ledger.Proof,
) (common.Hash, error) {
	if proof == nil {
		return common.Hash{}, fmt.Errorf("missing withdraw proof")
	}
	return c.transact(ctx, w, c.encryptedERC, "withdraw", amount, c.addresses.Token,
		proof.PublicSignals, proof.Points)
}

// SubmitTransfer sends a shielded transfer from the wallet to to.
func (c *Contracts) SubmitTransfer(ctx context.Context, w ledger.Wallet, to common.Address,
	proof *ledger.Proof,
) (common.Hash, error) {
	if proof == nil {
		return common.Hash{}, fmt.Errorf("missing transfer proof")
	}
	return c.transact(ctx, w, c.encryptedERC, "transfer", to, proof.PublicSignals, proof.Points)
}

// FaucetAmount returns the amount sent by Faucet in token units.
func (c *Contracts) FaucetAmount(ctx context.Context) (*big.Int, error) {
	decimals, err := call[uint8](ctx, c.token, "decimals")
	if err != nil {
		return nil, err
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return unit.Mul(unit, big.NewInt(FaucetTokens)), nil
}

// Faucet sends FaucetTokens public tokens from the operator wallet to to.
// It fails if the operator does not hold enough tokens.
func (c *Contracts) Faucet(ctx context.Context, operator ledger.Wallet, to common.Address) (common.Hash, *big.Int, error) {
	amount, err := c.FaucetAmount(ctx)
	if err != nil {
		return common.Hash{}, nil, err
	}
	balance, err := c.PublicBalanceOf(ctx, operator.Address())
	if err != nil {
		return common.Hash{}, nil, err
	}
	if balance.Cmp(amount) < 0 {
		return common.Hash{}, nil, fmt.Errorf("faucet balance %s is lower than %s", balance, amount)
	}
	hash, err := c.transact(ctx, operator, c.token, "transfer", to, amount)
	if err != nil {
		return common.Hash{}, nil, err
	}
	log.Infow("faucet tokens sent", "to", to.Hex(), "amount", amount.String(), "tx", hash.Hex())
	return hash, amount, nil
}

// Faucet sends test tokens from a fixed operator wallet.
type Faucet struct {
	contracts *Contracts
	operator  ledger.Wallet
}

// NewFaucet returns a Faucet that pays from operator.
func NewFaucet(c *Contracts, operator ledger.Wallet) *Faucet {
	return &Faucet{contracts: c, operator: operator}
}

// Send transfers the faucet amount to to.
func (f *Faucet) Send(ctx context.Context, to common.Address) (common.Hash, *big.Int, error) {
	return f.contracts.Faucet(ctx, f.operator, to)
}
