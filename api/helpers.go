package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/sequencer"
	"github.com/vocdoni/eerc-client/util"
)

// httpWriteJSON helper function allows to write a JSON response.
func httpWriteJSON(w http.ResponseWriter, data any) {
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(append(jdata, '\n'))
	if err != nil {
		log.Warnw("failed to write http response", "error", err)
	}
	log.Debugw("api response", "bytes", n, "data", strings.ReplaceAll(string(jdata), "\"", ""))
}

// httpWriteOK helper function allows to write an OK response.
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// decodeBody decodes the JSON body of r into v, writing the error response
// if it fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return false
	}
	return true
}

// addressParam parses the address URL parameter.
func addressParam(r *http.Request) (common.Address, error) {
	s := chi.URLParam(r, AddressURLParam)
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrMalformedAddress.With(s)
	}
	return common.HexToAddress(s), nil
}

// txHashParam parses the transaction hash URL parameter.
func txHashParam(r *http.Request) (common.Hash, error) {
	s := chi.URLParam(r, TxHashURLParam)
	b, err := hex.DecodeString(util.TrimHex(s))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, ErrMalformedTxHash.With(s)
	}
	return common.BytesToHash(b), nil
}

// credentials resolves the credentials of a request into the wallet and the
// shielded keypair of the caller.
func (a *API) credentials(c *Credentials) (*sequencer.Credentials, string, error) {
	var (
		method sequencer.RegistrationMethod
		name   string
	)
	switch {
	case c.Address != nil && c.Signature != "":
		method = &sequencer.SignatureBased{Address: *c.Address, Signature: c.Signature}
		name = MethodSignature
	case c.PrivateKey != "":
		if !a.devKeys {
			return nil, "", ErrPrivateKeyNotAllowed
		}
		method = &sequencer.DevelopmentPrivateKey{PrivateKey: c.PrivateKey}
		name = MethodPrivateKey
	default:
		return nil, "", ErrMissingCredentials
	}
	creds, err := method.Resolve(a.wallets)
	if err != nil {
		return nil, "", err
	}
	if c.Address != nil && creds.Address() != *c.Address {
		return nil, "", ErrInvalidRequest.Withf("credentials belong to %s, not %s", creds.Address().Hex(), c.Address.Hex())
	}
	return creds, name, nil
}
