package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// HealthEndpoint returns the service status and version
	HealthEndpoint = "/health"
	// ContractsInfoEndpoint returns the deployed contracts
	ContractsInfoEndpoint = "/info/contracts"

	// RegisterEndpoint is the endpoint to register the shielded key of a user
	RegisterEndpoint = "/users/register"
	// UserEndpoint returns the registration status of a user
	AddressURLParam = "address"
	UserEndpoint    = "/users/{" + AddressURLParam + "}"
	// UserBalanceEndpoint returns the public and shielded balances of a user
	UserBalanceEndpoint = UserEndpoint + "/balance"
	// UserTransactionsEndpoint lists the confirmed transactions of a user
	UserTransactionsEndpoint = UserEndpoint + "/transactions"

	// DepositEndpoint converts public tokens into shielded balance
	DepositEndpoint = "/tokens/deposit"
	// WithdrawEndpoint converts shielded balance back into public tokens
	WithdrawEndpoint = "/tokens/withdraw"
	// TransferEndpoint moves shielded balance between registered users
	TransferEndpoint = "/tokens/transfer"
	// FaucetEndpoint sends test tokens to an address
	FaucetEndpoint = "/faucet"

	// TransactionEndpoint returns a confirmed transaction record
	TxHashURLParam      = "hash"
	TransactionEndpoint = "/transactions/{" + TxHashURLParam + "}"
	// ReconcileEndpoint resolves a transaction whose confirmation timed out
	ReconcileEndpoint = TransactionEndpoint + "/reconcile"

	// OperationEndpoint returns the state of a tracked operation
	OperationURLParam = "id"
	OperationEndpoint = "/operations/{" + OperationURLParam + "}"
)
