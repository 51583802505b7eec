// Package erptest provides an in-memory erp.Client for tests.
package erptest

import (
	"context"
	"errors"
	"sync"

	"retail-loyalty/pkg/erp"
)

type Ledger struct {
	mu        sync.Mutex
	discounts map[string]float64
	bonuses   []erp.BonusUpdate

	// DiscountErr and BonusErr fail the matching calls when set.
	DiscountErr error
	BonusErr    error
	InfoErr     error

	// BonusAddLimit fails bonus additions once that many succeeded. Zero
	// disables it. Write-offs are never limited.
	BonusAddLimit int
	adds          int
}

func NewLedger() *Ledger {
	return &Ledger{discounts: map[string]float64{}}
}

func (l *Ledger) GetClientInfo(ctx context.Context, phone string) (*erp.ClientInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.InfoErr != nil {
		return nil, l.InfoErr
	}
	d, ok := l.discounts[phone]
	if !ok {
		return nil, nil
	}
	return &erp.ClientInfo{PersonalDiscount: d}, nil
}

func (l *Ledger) UpdateDiscount(ctx context.Context, phone string, percent float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.DiscountErr != nil {
		return l.DiscountErr
	}
	l.discounts[phone] = percent
	return nil
}

func (l *Ledger) UpdateBonus(ctx context.Context, req erp.BonusUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BonusErr != nil {
		return l.BonusErr
	}
	if req.Operation == erp.OperationAdd {
		if l.BonusAddLimit > 0 && l.adds >= l.BonusAddLimit {
			return errors.New("erptest: bonus add limit reached")
		}
		l.adds++
	}
	l.bonuses = append(l.bonuses, req)
	return nil
}

func (l *Ledger) SetDiscount(phone string, percent float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discounts[phone] = percent
}

func (l *Ledger) Discount(phone string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.discounts[phone]
	return d, ok
}

func (l *Ledger) Bonuses() []erp.BonusUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]erp.BonusUpdate(nil), l.bonuses...)
}

// NetBonus sums additions minus write-offs sent for phone.
func (l *Ledger) NetBonus(phone string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var net float64
	for _, b := range l.bonuses {
		if b.Phone != phone {
			continue
		}
		if b.Operation == erp.OperationWriteOff {
			net -= b.Amount
		} else {
			net += b.Amount
		}
	}
	return net
}

// BonusAmounts lists the amounts sent for phone, in call order.
func (l *Ledger) BonusAmounts(phone string) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []float64
	for _, b := range l.bonuses {
		if b.Phone == phone {
			out = append(out, b.Amount)
		}
	}
	return out
}
