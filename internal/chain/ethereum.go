// internal/chain/ethereum.go
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/sauliuspr-reya/reya-workers/pkg/errors"
)

const receiptPollInterval = 2 * time.Second

// EthSubmitter signs and broadcasts transactions with a single hot key over a
// JSON-RPC endpoint. Nonce assignment is serialized across concurrent jobs
// because the signing key is shared.
type EthSubmitter struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	nonceMu sync.Mutex
}

// NewEthSubmitter dials the RPC endpoint and loads the signing key.
func NewEthSubmitter(ctx context.Context, rpcURL, privateKeyHex string) (*EthSubmitter, error) {
	if privateKeyHex == "" {
		return nil, errors.New("signing private key is not set")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}

	return &EthSubmitter{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Close releases the RPC connection.
func (s *EthSubmitter) Close() {
	s.client.Close()
}

// Ping verifies the RPC endpoint is reachable.
func (s *EthSubmitter) Ping(ctx context.Context) error {
	_, err := s.client.BlockNumber(ctx)
	return err
}

// Simulate estimates gas and gas price for the request without broadcasting.
func (s *EthSubmitter) Simulate(ctx context.Context, req TxRequest) (*Estimate, error) {
	to, value, data, err := s.decode(req)
	if err != nil {
		return nil, err
	}

	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, errors.NewUpstreamSigningError("EstimateGas", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.NewUpstreamSigningError("SuggestGasPrice", err)
	}

	return &Estimate{Gas: gas, GasPrice: gasPrice.String()}, nil
}

// Submit signs and broadcasts the transaction, returning its hash and the raw
// signed payload.
func (s *EthSubmitter) Submit(ctx context.Context, req TxRequest) (*Submission, error) {
	to, value, data, err := s.decode(req)
	if err != nil {
		return nil, err
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.NewUpstreamSigningError("SuggestGasPrice", err)
	}

	var gasLimit uint64
	if req.GasLimit != "" {
		gasLimit, err = strconv.ParseUint(req.GasLimit, 10, 64)
		if err != nil {
			return nil, errors.NewUpstreamSigningError("ParseGasLimit",
				fmt.Errorf("invalid gas limit %q: %w", req.GasLimit, err))
		}
	} else {
		gasLimit, err = s.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.from,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return nil, errors.NewUpstreamSigningError("EstimateGas", err)
		}
	}

	// One nonce per broadcast, assigned and spent under the same lock.
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, errors.NewUpstreamSigningError("PendingNonceAt", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, errors.NewUpstreamSigningError("SignTx", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, errors.NewUpstreamSigningError("EncodeTx", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return nil, errors.NewUpstreamSigningError("SendTransaction", err)
	}

	return &Submission{
		TxHash: signed.Hash().Hex(),
		Raw:    hexutil.Encode(raw),
	}, nil
}

// AwaitReceipt polls for the transaction receipt until it appears or ctx is
// done. A receipt with a failure status yields Success=false, not an error.
func (s *EthSubmitter) AwaitReceipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			logs := make([]string, 0, len(receipt.Logs))
			for _, l := range receipt.Logs {
				logs = append(logs, l.Address.Hex())
			}
			return &TxReceipt{
				TxHash:           txHash,
				BlockHash:        receipt.BlockHash.Hex(),
				BlockNumber:      receipt.BlockNumber.Uint64(),
				TransactionIndex: receipt.TransactionIndex,
				GasUsed:          receipt.GasUsed,
				Success:          receipt.Status == types.ReceiptStatusSuccessful,
				Logs:             logs,
			}, nil
		}
		if err != ethereum.NotFound {
			return nil, errors.NewUpstreamSigningError("TransactionReceipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, errors.NewUpstreamSigningError("AwaitReceipt", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *EthSubmitter) decode(req TxRequest) (common.Address, *big.Int, []byte, error) {
	if !common.IsHexAddress(req.To) {
		return common.Address{}, nil, nil, errors.NewUpstreamSigningError("DecodeRequest",
			fmt.Errorf("invalid destination address %q", req.To))
	}
	to := common.HexToAddress(req.To)

	value := new(big.Int)
	if req.Amount != "" {
		if _, ok := value.SetString(req.Amount, 10); !ok {
			return common.Address{}, nil, nil, errors.NewUpstreamSigningError("DecodeRequest",
				fmt.Errorf("invalid amount %q", req.Amount))
		}
	}

	return to, value, common.FromHex(req.Data), nil
}

// ErrorCode extracts a provider-specific error code from an RPC fault, or ""
// when the error carries none.
func ErrorCode(err error) string {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return strconv.Itoa(rpcErr.ErrorCode())
	}
	return ""
}
