// Package chain wraps the signing and broadcast capability the worker drives.
// The worker treats it as an opaque "submit signed transaction, await
// confirmation" collaborator.
package chain

// TxRequest describes one transaction to sign and broadcast. Amount is a
// base-unit (wei) decimal string; GasLimit, when set, overrides estimation.
type TxRequest struct {
	To       string
	Data     string
	Amount   string
	GasLimit string
}

// Estimate is the advisory result of a pre-submission simulation.
type Estimate struct {
	Gas      uint64
	GasPrice string
}

// Submission reports a broadcast transaction.
type Submission struct {
	TxHash string
	// Raw is the RLP-encoded signed transaction, echoed into error detail
	// when confirmation later fails.
	Raw string
}

// TxReceipt is the observed on-chain outcome of a broadcast transaction.
type TxReceipt struct {
	TxHash           string
	BlockHash        string
	BlockNumber      uint64
	TransactionIndex uint
	GasUsed          uint64
	// Success is false when the receipt reports execution failure, which
	// is a terminal on-chain failure rather than a transport error.
	Success bool
	Logs    []string
}
