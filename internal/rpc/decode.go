package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
)

// ErrSkipTransaction marks transactions that failed on chain or moved no
// lamports. They carry nothing for the parsers.
var ErrSkipTransaction = errors.New("transaction skipped")

// RawTransaction converts a jsonParsed getTransaction result into the
// parsers' balance-delta form. The fee payer is the first account key;
// accounts whose balance did not change are left out.
func RawTransaction(signature string, res *TransactionResult) (parser.RawTransaction, error) {
	if res.Meta == nil || res.Transaction == nil {
		return parser.RawTransaction{}, fmt.Errorf("transaction %s without meta", signature)
	}
	if res.Meta.Err != nil {
		return parser.RawTransaction{}, ErrSkipTransaction
	}
	if res.BlockTime == nil {
		return parser.RawTransaction{}, fmt.Errorf("transaction %s without block time", signature)
	}

	keys := res.Transaction.Message.AccountKeys
	pre, post := res.Meta.PreBalances, res.Meta.PostBalances
	if len(keys) == 0 || len(pre) != len(keys) || len(post) != len(keys) {
		return parser.RawTransaction{}, fmt.Errorf("balance arrays do not match %d account keys", len(keys))
	}

	tx := parser.RawTransaction{
		Signature: signature,
		Timestamp: time.Unix(*res.BlockTime, 0).UTC(),
		FeePayer:  keys[0].Pubkey,
	}
	for i, key := range keys {
		if delta := post[i] - pre[i]; delta != 0 {
			tx.BalanceChanges = append(tx.BalanceChanges, parser.BalanceChange{
				Account: key.Pubkey,
				Delta:   delta,
			})
		}
	}
	if len(tx.BalanceChanges) == 0 {
		return parser.RawTransaction{}, ErrSkipTransaction
	}
	return tx, nil
}
