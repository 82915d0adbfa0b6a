// Package election is the ledger of the election economy: candidates,
// tickets (locked votes), spendable balances and per-term dividend pools.
//
// The ledger holds no consensus state. Callers pass the current term, its
// miners and the canonical timestamp explicitly.
package election

import (
	"encoding/binary"
	"math/big"

	"github.com/google/uuid"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/kv"
)

var (
	candidateListKey = []byte("candidates")
	ticketNonceKey   = []byte("ticket-nonce")

	ticketNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("dposcore/ticket"))
)

type Ledger struct {
	params *config.Params

	meta         *kv.Table
	candidates   *kv.Table
	tickets      *kv.Table
	voterTickets *kv.Table
	candTickets  *kv.Table
	balances     *kv.Table
	dividends    *kv.Table
	pools        *kv.Table
	snapshots    *kv.Table
}

func New(store kv.Store, params *config.Params) *Ledger {
	return &Ledger{
		params:       params,
		meta:         kv.NewTable(store, "election/"),
		candidates:   kv.NewTable(store, "cand/"),
		tickets:      kv.NewTable(store, "ticket/"),
		voterTickets: kv.NewTable(store, "voter-tickets/"),
		candTickets:  kv.NewTable(store, "cand-tickets/"),
		balances:     kv.NewTable(store, "balance/"),
		dividends:    kv.NewTable(store, "dividend/"),
		pools:        kv.NewTable(store, "pool/"),
		snapshots:    kv.NewTable(store, "snapshot/"),
	}
}

// Weight is the tally a ticket adds to its candidate:
// amount * (divisor + lockDays) / divisor. It is monotonic in both inputs.
func Weight(amount, lockDays, divisor uint64) *big.Int {
	w := new(big.Int).SetUint64(divisor)
	w.Add(w, new(big.Int).SetUint64(lockDays))
	w.Mul(w, new(big.Int).SetUint64(amount))
	return w.Div(w, new(big.Int).SetUint64(divisor))
}

// TicketID derives the id of the nonce-th ticket issued by the ledger.
func TicketID(voter, candidate thor.Address, nonce uint64) string {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	data := make([]byte, 0, 48)
	data = append(data, voter.Bytes()...)
	data = append(data, candidate.Bytes()...)
	data = append(data, n[:]...)
	return uuid.NewSHA1(ticketNamespace, data).String()
}

func termKey(term uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], term)
	return k[:]
}

// getUint reads a uint64 record, treating absence as zero.
func getUint(t *kv.Table, key []byte) (uint64, error) {
	var v uint64
	if err := t.GetRLP(key, &v); err != nil {
		if kv.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// getList reads a list record, treating absence as empty.
func getList[T any](t *kv.Table, key []byte) ([]T, error) {
	var v []T
	if err := t.GetRLP(key, &v); err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (l *Ledger) nextTicketNonce() (uint64, error) {
	n, err := getUint(l.meta, ticketNonceKey)
	if err != nil {
		return 0, err
	}
	if err := l.meta.PutRLP(ticketNonceKey, n+1); err != nil {
		return 0, err
	}
	return n, nil
}
