package rpc

import "fmt"

// RPCError is the error member of a JSON-RPC response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// envelope is the JSON-RPC 2.0 response shape shared by every method
type envelope[T any] struct {
	Result T         `json:"result"`
	Error  *RPCError `json:"error"`
}

// SignatureInfo is one entry of getSignaturesForAddress, newest first
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
	Err       any    `json:"err"`
	BlockTime *int64 `json:"blockTime"`
}

// SignatureQuery pages through getSignaturesForAddress. Until stops before
// an already seen signature; Before starts below one.
type SignatureQuery struct {
	Until  string
	Before string
	Limit  int
}

func (q SignatureQuery) params() map[string]any {
	opts := map[string]any{}
	if q.Limit > 0 {
		opts["limit"] = q.Limit
	}
	if q.Until != "" {
		opts["until"] = q.Until
	}
	if q.Before != "" {
		opts["before"] = q.Before
	}
	return opts
}

// TransactionMeta carries lamport balances indexed like the message's
// account keys
type TransactionMeta struct {
	Err          any     `json:"err"`
	Fee          uint64  `json:"fee"`
	PreBalances  []int64 `json:"preBalances"`
	PostBalances []int64 `json:"postBalances"`
}

type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

type TransactionMessage struct {
	AccountKeys []AccountKey `json:"accountKeys"`
}

type Transaction struct {
	Signatures []string           `json:"signatures"`
	Message    TransactionMessage `json:"message"`
}

// TransactionResult is a jsonParsed getTransaction result
type TransactionResult struct {
	Slot        int64            `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction *Transaction     `json:"transaction"`
}
