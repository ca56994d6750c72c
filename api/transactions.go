package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vocdoni/eerc-client/storage"
)

// transaction returns the record of a confirmed transaction
// GET /transactions/{hash}
func (a *API) transaction(w http.ResponseWriter, r *http.Request) {
	hash, err := txHashParam(r)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	rec, err := a.storage.Transaction(hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrTransactionNotFound.With(hash.Hex()).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, rec)
}

// reconcile resolves a transaction whose confirmation timed out
// POST /transactions/{hash}/reconcile
func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	hash, err := txHashParam(r)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	res, err := a.seq.Reconcile(r.Context(), hash)
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	httpWriteJSON(w, res)
}

// operation returns the state of a tracked operation
// GET /operations/{id}
func (a *API) operation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, OperationURLParam)
	op, ok := a.seq.Operation(id)
	if !ok {
		ErrOperationNotFound.With(id).Write(w)
		return
	}
	httpWriteJSON(w, op)
}

// health reports the service status
// GET /health
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &Health{
		Status:    "healthy",
		Version:   a.version,
		ChainID:   a.seq.Gateway().ChainID().String(),
		Timestamp: time.Now().UTC(),
	})
}

// contractsInfo returns the deployment the service is bound to
// GET /info/contracts
func (a *API) contractsInfo(w http.ResponseWriter, r *http.Request) {
	if a.contracts == nil {
		ErrResourceNotFound.With("no deployment information").Write(w)
		return
	}
	httpWriteJSON(w, a.contracts)
}
