//nolint:lll
package api

import (
	"fmt"
	"net/http"

	"github.com/vocdoni/eerc-client/registry"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 403, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500, 502 or 504.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX
// If you notice there's a gap (say, error code 40002 and 40003 are missing) DON'T fill in the gap,
// that code was used in the past for some error (not anymore) and shouldn't be reused.
// There's no correlation between Code and HTTP Status.
var (
	ErrResourceNotFound       = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody          = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrInvalidSignature       = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid signature")}
	ErrMalformedAddress       = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed address")}
	ErrMalformedTxHash        = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed transaction hash")}
	ErrOperationNotFound      = Error{Code: 40008, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("operation not found")}
	ErrTransactionNotFound    = Error{Code: 40009, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("transaction not found")}
	ErrInvalidRequest         = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid request")}
	ErrAccountNotRegistered   = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("account not registered")}
	ErrInsufficientBalance    = Error{Code: 40012, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("insufficient balance")}
	ErrKeyMismatch            = Error{Code: 40013, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("shielded key mismatch")}
	ErrRegistrationInProgress = Error{Code: 40014, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("registration in progress")}
	ErrPrivateKeyNotAllowed   = Error{Code: 40015, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("private key credentials are disabled")}
	ErrMissingCredentials     = Error{Code: 40016, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("address and signature (or a development private key) required")}
	ErrKeyDerivationFailed    = Error{Code: 40017, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("key derivation failed")}
	ErrFaucetNotAvailable     = Error{Code: 40018, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("faucet not available")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrProofGenerationFailed      = Error{Code: 50003, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("proof generation failed")}
	ErrLedgerSubmissionFailed     = Error{Code: 50004, HTTPstatus: http.StatusBadGateway, Err: fmt.Errorf("ledger submission failed")}
	ErrConfirmationTimeout        = Error{Code: 50005, HTTPstatus: http.StatusGatewayTimeout, Err: fmt.Errorf("transaction not confirmed in time, reconcile it")}
)

// sentinelErrors maps the operation errors to their API error. The first
// match wins, so the most specific sentinels go first.
var sentinelErrors = []struct {
	sentinel error
	apiErr   Error
}{
	{types.ErrKeyMismatch, ErrKeyMismatch},
	{registry.ErrRegistrationInProgress, ErrRegistrationInProgress},
	{types.ErrSignatureVerification, ErrInvalidSignature},
	{types.ErrKeyDerivation, ErrKeyDerivationFailed},
	{types.ErrNotRegistered, ErrAccountNotRegistered},
	{types.ErrInsufficientBalance, ErrInsufficientBalance},
	{types.ErrValidation, ErrInvalidRequest},
	{types.ErrProofGeneration, ErrProofGenerationFailed},
	{types.ErrConfirmationTimeout, ErrConfirmationTimeout},
	{types.ErrLedgerSubmission, ErrLedgerSubmissionFailed},
	{storage.ErrNotFound, ErrResourceNotFound},
}
