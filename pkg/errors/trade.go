// pkg/errors/trade.go
package errors

import "net/http"

// Trade pipeline error codes
const (
	// CodeInvalidRequest indicates missing or malformed client input.
	CodeInvalidRequest = "INVALID_REQUEST"
	// CodeStorageError indicates the transaction store is unavailable or a write failed.
	CodeStorageError = "STORAGE_ERROR"
	// CodeQueueError indicates an enqueue/dequeue transport failure.
	CodeQueueError = "QUEUE_ERROR"
	// CodeOnChainFailure indicates a broadcast transaction reverted on chain.
	CodeOnChainFailure = "ONCHAIN_FAILURE"
	// CodeTransportTimeout indicates a synchronous wait exceeded its bound.
	CodeTransportTimeout = "TRANSPORT_TIMEOUT"
	// CodeUpstreamSigningError indicates a credential, RPC or network fault
	// during broadcast or confirmation.
	CodeUpstreamSigningError = "UPSTREAM_SIGNING_ERROR"
)

// Domain names
const (
	GatewayDomain = "gateway"
	QueueDomain   = "queue"
	StorageDomain = "storage"
	ChainDomain   = "chain"
	WorkerDomain  = "worker"
)

// NewInvalidRequest creates a client input error.
func NewInvalidRequest(message string) error {
	return &Error{
		Domain:  GatewayDomain,
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewStorageError wraps a persistence failure.
func NewStorageError(operation string, err error) error {
	return &Error{
		Domain:    StorageDomain,
		Code:      CodeStorageError,
		Operation: operation,
		Original:  err,
	}
}

// NewQueueError wraps a queue transport failure.
func NewQueueError(operation string, err error) error {
	return &Error{
		Domain:    QueueDomain,
		Code:      CodeQueueError,
		Operation: operation,
		Original:  err,
	}
}

// NewOnChainFailure creates a terminal on-chain execution failure.
func NewOnChainFailure(txHash string) error {
	return &Error{
		Domain:  ChainDomain,
		Code:    CodeOnChainFailure,
		Message: "transaction reverted on chain",
		Fields:  map[string]interface{}{"tx_hash": txHash},
	}
}

// NewUpstreamSigningError wraps a signing/broadcast collaborator fault.
func NewUpstreamSigningError(operation string, err error) error {
	return &Error{
		Domain:    ChainDomain,
		Code:      CodeUpstreamSigningError,
		Operation: operation,
		Original:  err,
	}
}

// HTTPStatus maps an error to the HTTP status code the gateway should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeOnChainFailure, CodeUpstreamSigningError:
		// Terminal job outcomes, reported as client-visible failures.
		return http.StatusBadRequest
	case CodeTransportTimeout:
		return http.StatusAccepted
	case CodeStorageError, CodeQueueError:
		return http.StatusInternalServerError
	default:
		if Is(err, ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
}
