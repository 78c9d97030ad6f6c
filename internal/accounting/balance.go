package accounting

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Totals sums debits and credits independently.
func Totals(lines []LineInput) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// ValidateBalance reports whether |Σdebit − Σcredit| < 0.01.
func ValidateBalance(lines []LineInput) bool {
	debit, credit := Totals(lines)
	return money.Balanced(debit, credit)
}

// ValidateLines checks each line is structurally usable. Balance is not checked.
func ValidateLines(lines []LineInput) error {
	for i, l := range lines {
		switch {
		case l.AccountID <= 0:
			return fmt.Errorf("%w: line %d has no account", ErrInvalidLine, i+1)
		case l.Debit.IsNegative() || l.Credit.IsNegative():
			return fmt.Errorf("%w: line %d has a negative amount", ErrInvalidLine, i+1)
		case l.Debit.IsZero() && l.Credit.IsZero():
			return fmt.Errorf("%w: line %d has no amount", ErrInvalidLine, i+1)
		}
	}
	return nil
}

// validateForPosting applies the checks required before an entry becomes posted.
func validateForPosting(reference string, lines []LineInput) error {
	if len(lines) < 2 {
		return fmt.Errorf("%w: entry %s has %d", ErrTooFewLines, reference, len(lines))
	}
	if err := ValidateLines(lines); err != nil {
		return fmt.Errorf("entry %s: %w", reference, err)
	}
	debit, credit := Totals(lines)
	if !money.Balanced(debit, credit) {
		return fmt.Errorf("%w: entry %s debit %s credit %s", ErrUnbalanced, reference, money.Format(debit), money.Format(credit))
	}
	return nil
}

// NetChange is the balance effect of a line on an account of type t.
func NetChange(t AccountType, debit, credit decimal.Decimal) decimal.Decimal {
	net := debit.Sub(credit)
	if t.DebitNormal() {
		return net
	}
	return net.Neg()
}

// distinctAccounts returns the referenced account ids in ascending order.
func distinctAccounts(lines []LineInput) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
