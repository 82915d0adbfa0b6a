package election

import (
	"math"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
)

func (l *Ledger) Balance(addr thor.Address) (uint64, error) {
	return getUint(l.balances, addr.Bytes())
}

// Credit adds amount to the spendable balance of addr.
func (l *Ledger) Credit(addr thor.Address, amount uint64) error {
	bal, err := l.Balance(addr)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return errors.Errorf("balance overflow for %s", addr)
	}
	return l.balances.PutRLP(addr.Bytes(), bal+amount)
}

func (l *Ledger) debit(addr thor.Address, amount uint64) error {
	bal, err := l.Balance(addr)
	if err != nil {
		return err
	}
	if bal < amount {
		return errors.Wrapf(errs.ErrInsufficientBalance, "%s has %d, needs %d", addr, bal, amount)
	}
	return l.balances.PutRLP(addr.Bytes(), bal-amount)
}

// Dividends returns the dividends addr can claim.
func (l *Ledger) Dividends(addr thor.Address) (uint64, error) {
	return getUint(l.dividends, addr.Bytes())
}

// ClaimDividends moves every claimable dividend of addr into its balance and
// returns the amount moved.
func (l *Ledger) ClaimDividends(addr thor.Address) (uint64, error) {
	amount, err := l.Dividends(addr)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errors.Wrapf(errs.ErrNoDividends, "%s", addr)
	}
	if err := l.dividends.PutRLP(addr.Bytes(), uint64(0)); err != nil {
		return 0, err
	}
	if err := l.Credit(addr, amount); err != nil {
		return 0, err
	}
	return amount, nil
}
