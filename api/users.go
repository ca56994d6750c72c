package api

import (
	"net/http"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/types"
)

// register registers the shielded public key of the caller
// POST /users/register
func (a *API) register(w http.ResponseWriter, r *http.Request) {
	req := &RegisterRequest{}
	if !decodeBody(w, r, req) {
		return
	}
	creds, method, err := a.credentials(&req.Credentials)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	res, err := a.seq.Register(r.Context(), creds)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	log.Infow("user registered",
		"address", res.Address.Hex(),
		"method", method,
		"alreadyRegistered", res.AlreadyRegistered)
	httpWriteJSON(w, &RegisterResponse{RegisterResult: res, Method: method})
}

// userStatus returns the registration status of an address
// GET /users/{address}
func (a *API) userStatus(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	acc, err := a.seq.Registry().Status(r.Context(), addr)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, &UserStatus{
		Address:        acc.Address,
		Registered:     acc.State == types.Registered,
		State:          acc.State,
		PublicKey:      acc.PublicKey,
		RegistrationTx: acc.RegistrationTx,
	})
}

// balance returns the public and shielded balances of an address
// GET /users/{address}/balance
func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	balance, err := a.seq.Balance(r.Context(), addr)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, balance)
}

// userTransactions lists the confirmed transactions of an address
// GET /users/{address}/transactions
func (a *API) userTransactions(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	txs, err := a.storage.Transactions(addr)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if txs == nil {
		txs = []*types.TransactionRecord{}
	}
	httpWriteJSON(w, &Transactions{Transactions: txs})
}
