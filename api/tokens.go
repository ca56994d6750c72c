package api

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/sequencer"
	"github.com/vocdoni/eerc-client/types"
)

// deposit converts public tokens of the caller into shielded balance
// POST /tokens/deposit
func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	a.amountOperation(w, r, a.seq.Deposit)
}

// withdraw converts shielded balance of the caller back into public tokens
// POST /tokens/withdraw
func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	a.amountOperation(w, r, a.seq.Withdraw)
}

func (a *API) amountOperation(w http.ResponseWriter, r *http.Request,
	op func(context.Context, *sequencer.Credentials, string) (*sequencer.Result, error),
) {
	req := &AmountRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	creds, _, err := a.credentials(&req.Credentials)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	res, err := op(r.Context(), creds, req.Amount)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, res)
}

// transfer moves shielded balance from the caller to another registered
// user
// POST /tokens/transfer
func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	req := &TransferRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	creds, _, err := a.credentials(&req.Credentials)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	res, err := a.seq.Transfer(r.Context(), creds, req.To, req.Amount)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, res)
}

// requestFaucet sends test tokens to an address and waits for the transfer
// to be mined
// POST /faucet
func (a *API) requestFaucet(w http.ResponseWriter, r *http.Request) {
	if a.faucet == nil {
		ErrFaucetNotAvailable.Write(w)
		return
	}
	req := &FaucetRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	if req.Address == (common.Address{}) {
		ErrMalformedAddress.With("missing address").Write(w)
		return
	}
	info, err := a.seq.TokenInfo(r.Context())
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	hash, amount, err := a.faucet.Send(r.Context(), req.Address)
	if err != nil {
		ErrLedgerSubmissionFailed.WithErr(err).Write(w)
		return
	}
	receipt, err := a.seq.Gateway().WaitTx(context.WithoutCancel(r.Context()), hash, FaucetConfirmationTimeout)
	if err != nil {
		ErrConfirmationTimeout.Withf("faucet tx %s: %v", hash.Hex(), err).Write(w)
		return
	}
	if !receipt.Success {
		ErrLedgerSubmissionFailed.Withf("faucet tx %s reverted", hash.Hex()).Write(w)
		return
	}
	log.Infow("faucet request served", "address", req.Address.Hex(), "amount", amount.String(), "tx", hash.Hex())
	httpWriteJSON(w, &FaucetResponse{
		Address:         req.Address,
		Token:           info.Address,
		Amount:          types.BigIntFrom(amount),
		AmountFormatted: types.FormatUnits(amount, info.Decimals),
		TxHash:          hash,
		BlockNumber:     receipt.BlockNumber,
	})
}
