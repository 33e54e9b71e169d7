package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	CodeConfigurationError: "Configuration error",

	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	CodeInternalError: "Internal error",
	CodeUnknownError:  "An unknown error occurred",

	CodeStaleData:             "Liquidity snapshot is older than the allowed age",
	CodeInsufficientLiquidity: "Venue depth is below the required amount",
	CodeNoCapitalSource:       "No capital source supports the instrument and amount",
	CodeSimulationFailure:     "Execution plan failed simulation",
	CodeSubmissionTimeout:     "Submission was not included in time",
	CodeSequenceConflict:      "Transaction sequence is out of sync with chain state",

	CodeEthereumConnectionFailed: "Failed to connect to Ethereum node",
	CodeEthereumSubscribeFailed:  "Failed to subscribe to Ethereum events",
	CodeEthereumRPCError:         "Ethereum RPC call failed",
	CodeGasEstimationFailed:      "Gas estimation failed",
	CodeMulticallFailed:          "Batched multicall read failed",
	CodeContractCallFailed:       "Contract call failed",

	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	CodeOrderbookFetchFailed: "Failed to fetch orderbook",
	CodeInvalidOrderbook:     "Invalid orderbook data",

	CodeUnsupportedProtocol: "Unsupported venue protocol",
	CodeUnsupportedToken:    "Venue does not trade this instrument",
	CodeInvalidPath:         "Path violates hop invariants",
	CodeInvalidAmount:       "Invalid amount",
	CodeBelowProfitFloor:    "Net profit below configured floor",
	CodeLowConfidence:       "Signal confidence below configured minimum",

	CodeInvalidPlan:         "Execution plan is internally inconsistent",
	CodeEncodingFailed:      "ABI encoding failed",
	CodeSigningFailed:       "Transaction signing failed",
	CodeRelayError:          "Protected relay rejected the request",
	CodeInvalidTransition:   "Invalid submission state transition",
	CodeProtectionViolation: "Opportunity value exceeds protection threshold for public submission",
	CodeLockNotAcquired:     "Distributed lock is held elsewhere",
	CodeTransactionReverted: "Transaction reverted on chain",

	CodeCacheMiss:  "Cache miss",
	CodeRedisError: "Redis operation failed",

	CodeCircuitOpen: "Circuit breaker is open",
}
