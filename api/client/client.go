package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/api"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/sequencer"
	"github.com/vocdoni/eerc-client/types"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = http.MethodGet
	// HTTPPOST is the method string used for calling Request()
	HTTPPOST = http.MethodPost

	errCodeNot200 = "API error"

	// DefaultRetries this enables Request() to handle the situation where the server connection fails
	DefaultRetries = 3
	// DefaultTimeout is the default timeout for the HTTP client. Operations
	// wait for proofs and confirmations, so it follows the server timeout.
	DefaultTimeout = api.DefaultRequestTimeout
)

// Error is an error response of the API.
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %d (code %d): %s", errCodeNot200, e.Status, e.Code, e.Message)
}

// HTTPclient is the eERC API HTTP client.
type HTTPclient struct {
	c       *http.Client
	host    *url.URL
	retries int
}

// New connects to the API host and returns the handle
func New(host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		IdleConnTimeout:    DefaultTimeout,
		DisableCompression: false,
	}
	c := &HTTPclient{
		c:       &http.Client{Transport: tr, Timeout: DefaultTimeout},
		host:    hostURL,
		retries: DefaultRetries,
	}
	log.Debugw("http client created", "host", hostURL.String())
	data, status, err := c.Request(HTTPGET, nil, nil, api.PingEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	return c, nil
}

// SetRetries configures the number of retries for the HTTP client.
func (c *HTTPclient) SetRetries(n int) {
	c.retries = n
}

// SetTimeout configures the timeout for the HTTP client.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.c.Timeout = d
	if tr, ok := c.c.Transport.(*http.Transport); ok {
		tr.ResponseHeaderTimeout = d
	}
}

// Request performs a `method` type raw request to the endpoint specified in urlPath parameter.
// Method is either GET or POST. If POST, a JSON struct should be attached.  Returns the response,
// the status code and an error.
//
// Supports query parameters via `params` slice. If the slice is not empty, it should contain pairs of strings;
// the first element of each pair is the key, and the second element is the value.
func (c *HTTPclient) Request(method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		if body, err = json.Marshal(jsonBody); err != nil {
			return nil, 0, fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}

	u := *c.host
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	if len(params) > 0 {
		values := url.Values{}
		for i := 0; i < len(params)-1; i += 2 {
			values.Set(params[i], params[i+1])
		}
		u.RawQuery = values.Encode()
	}

	headers := http.Header{}
	if jsonBody != nil {
		headers.Set("Content-Type", "application/json")
		headers.Set("Accept", "application/json")
	}

	log.Debugw("http client request", "type", method, "url", u.String())

	var (
		resp *http.Response
		err  error
	)
	for i := 1; i <= c.retries; i++ {
		// Create a fresh request each attempt
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, rerr := http.NewRequest(method, u.String(), reqBody)
		if rerr != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", rerr)
		}
		req.Header = headers
		if resp, err = c.c.Do(req); err == nil {
			break
		}
		log.Warnw("http request failed", "error", err.Error(), "attempt", i, "retries", c.retries)
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("http request ultimately failed after retries: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// call performs a request and decodes the response into out. Responses
// other than 200 are returned as *Error.
func (c *HTTPclient) call(method string, body, out any, urlPath ...string) error {
	data, status, err := c.Request(method, body, nil, urlPath...)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		apiErr := &Error{Status: status}
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func endpoint(pattern, param, value string) string {
	return strings.Replace(pattern, "{"+param+"}", value, 1)
}

// Register registers the shielded key of the credentials owner.
func (c *HTTPclient) Register(creds api.Credentials) (*api.RegisterResponse, error) {
	res := &api.RegisterResponse{}
	return res, c.call(HTTPPOST, &api.RegisterRequest{Credentials: creds}, res, api.RegisterEndpoint)
}

// UserStatus returns the registration status of addr.
func (c *HTTPclient) UserStatus(addr common.Address) (*api.UserStatus, error) {
	res := &api.UserStatus{}
	return res, c.call(HTTPGET, nil, res, endpoint(api.UserEndpoint, api.AddressURLParam, addr.Hex()))
}

// Balance returns the public and shielded balances of addr.
func (c *HTTPclient) Balance(addr common.Address) (*sequencer.Balance, error) {
	res := &sequencer.Balance{}
	return res, c.call(HTTPGET, nil, res, endpoint(api.UserBalanceEndpoint, api.AddressURLParam, addr.Hex()))
}

// Transactions lists the confirmed transactions of addr.
func (c *HTTPclient) Transactions(addr common.Address) ([]*types.TransactionRecord, error) {
	res := &api.Transactions{}
	if err := c.call(HTTPGET, nil, res, endpoint(api.UserTransactionsEndpoint, api.AddressURLParam, addr.Hex())); err != nil {
		return nil, err
	}
	return res.Transactions, nil
}

// Deposit converts amount public tokens into shielded balance.
func (c *HTTPclient) Deposit(creds api.Credentials, amount string) (*sequencer.Result, error) {
	res := &sequencer.Result{}
	return res, c.call(HTTPPOST, &api.AmountRequest{Credentials: creds, Amount: amount}, res, api.DepositEndpoint)
}

// Withdraw converts amount shielded tokens back into public balance.
func (c *HTTPclient) Withdraw(creds api.Credentials, amount string) (*sequencer.Result, error) {
	res := &sequencer.Result{}
	return res, c.call(HTTPPOST, &api.AmountRequest{Credentials: creds, Amount: amount}, res, api.WithdrawEndpoint)
}

// Transfer sends amount shielded tokens to to.
func (c *HTTPclient) Transfer(creds api.Credentials, to common.Address, amount string) (*sequencer.Result, error) {
	res := &sequencer.Result{}
	req := &api.TransferRequest{Credentials: creds, To: to, Amount: amount}
	return res, c.call(HTTPPOST, req, res, api.TransferEndpoint)
}

// Faucet requests test tokens for addr.
func (c *HTTPclient) Faucet(addr common.Address) (*api.FaucetResponse, error) {
	res := &api.FaucetResponse{}
	return res, c.call(HTTPPOST, &api.FaucetRequest{Address: addr}, res, api.FaucetEndpoint)
}

// Transaction returns the record of a confirmed transaction.
func (c *HTTPclient) Transaction(hash common.Hash) (*types.TransactionRecord, error) {
	res := &types.TransactionRecord{}
	return res, c.call(HTTPGET, nil, res, endpoint(api.TransactionEndpoint, api.TxHashURLParam, hash.Hex()))
}

// Reconcile resolves a transaction whose confirmation timed out.
func (c *HTTPclient) Reconcile(hash common.Hash) (*sequencer.ReconcileResult, error) {
	res := &sequencer.ReconcileResult{}
	return res, c.call(HTTPPOST, nil, res, endpoint(api.ReconcileEndpoint, api.TxHashURLParam, hash.Hex()))
}

// Operation returns the state of a tracked operation.
func (c *HTTPclient) Operation(id string) (*sequencer.Operation, error) {
	res := &sequencer.Operation{}
	return res, c.call(HTTPGET, nil, res, endpoint(api.OperationEndpoint, api.OperationURLParam, id))
}

// Health returns the service status.
func (c *HTTPclient) Health() (*api.Health, error) {
	res := &api.Health{}
	return res, c.call(HTTPGET, nil, res, api.HealthEndpoint)
}

// ContractsInfo returns the deployment the service is bound to.
func (c *HTTPclient) ContractsInfo() (*api.ContractsInfo, error) {
	res := &api.ContractsInfo{}
	return res, c.call(HTTPGET, nil, res, api.ContractsInfoEndpoint)
}
