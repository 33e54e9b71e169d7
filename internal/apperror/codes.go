package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Pipeline taxonomy. Every opportunity terminates with at most one of these.
const (
	// CodeStaleData: a snapshot is older than the configured max age. Retried next cycle.
	CodeStaleData Code = "STALE_DATA"
	// CodeInsufficientLiquidity: venue depth below the required amount. Discarded.
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	// CodeNoCapitalSource: no flash-loan source covers the amount. Fatal for the opportunity.
	CodeNoCapitalSource Code = "NO_CAPITAL_SOURCE"
	// CodeSimulationFailure: the plan reverted in simulation. Never submitted.
	CodeSimulationFailure Code = "SIMULATION_FAILURE"
	// CodeSubmissionTimeout: no inclusion within the wait window.
	CodeSubmissionTimeout Code = "SUBMISSION_TIMEOUT"
	// CodeSequenceConflict: the account nonce must be resynchronized before further submissions.
	CodeSequenceConflict Code = "SEQUENCE_CONFLICT"
)

// Infrastructure and domain codes
const (
	// Chain access
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumSubscribeFailed  Code = "ETHEREUM_SUBSCRIBE_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"
	CodeGasEstimationFailed      Code = "GAS_ESTIMATION_FAILED"
	CodeMulticallFailed          Code = "MULTICALL_FAILED"
	CodeContractCallFailed       Code = "CONTRACT_CALL_FAILED"

	// WebSocket
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Order book feed
	CodeOrderbookFetchFailed Code = "ORDERBOOK_FETCH_FAILED"
	CodeInvalidOrderbook     Code = "INVALID_ORDERBOOK"

	// Venue math and paths
	CodeUnsupportedProtocol Code = "UNSUPPORTED_PROTOCOL"
	CodeUnsupportedToken    Code = "UNSUPPORTED_TOKEN"
	CodeInvalidPath         Code = "INVALID_PATH"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeBelowProfitFloor    Code = "BELOW_PROFIT_FLOOR"
	CodeLowConfidence       Code = "LOW_CONFIDENCE"

	// Execution and submission
	CodeInvalidPlan         Code = "INVALID_PLAN"
	CodeEncodingFailed      Code = "ENCODING_FAILED"
	CodeSigningFailed       Code = "SIGNING_FAILED"
	CodeRelayError          Code = "RELAY_ERROR"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeProtectionViolation Code = "PROTECTION_VIOLATION"
	CodeLockNotAcquired     Code = "LOCK_NOT_ACQUIRED"
	CodeTransactionReverted Code = "TRANSACTION_REVERTED"

	// Cache / messaging
	CodeCacheMiss  Code = "CACHE_MISS"
	CodeRedisError Code = "REDIS_ERROR"

	// Circuit breaker
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)
