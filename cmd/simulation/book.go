package main

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"

	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/operator"
	"github.com/shopspring/decimal"
)

var header = []string{
	"tradeId", "lender", "borrower", "cusip", "settlementDate", "tradeDate",
	"collateralQuantity", "price", "repoRate", "term", "startAmount", "endAmount", "currency",
}

type simTrade struct {
	lender   string
	borrower string
	info     contract.TradeInfo
}

type book struct {
	trades []simTrade
}

// generateBook draws n trades between distinct participants spread over
// days consecutive settlement dates starting at first.
func generateBook(rng *rand.Rand, n int, first contract.Date, days int) book {
	var b book
	for i := 0; i < n; i++ {
		lender := participants[rng.Intn(len(participants))]
		borrower := lender
		for borrower == lender {
			borrower = participants[rng.Intn(len(participants))]
		}

		settle := first.AddDays(rng.Intn(days))
		qty := decimal.NewFromInt(int64(rng.Intn(100) + 1))
		price := decimal.NewFromInt(int64(rng.Intn(1000) + 9500)).Shift(-2)
		rate := decimal.NewFromInt(int64(rng.Intn(300) + 100)).Shift(-4)
		term := int64(rng.Intn(30) + 1)
		start := qty.Mul(price).Round(2)
		end := start.Add(start.Mul(rate).Mul(decimal.NewFromInt(term)).Div(decimal.NewFromInt(360))).Round(2)

		b.trades = append(b.trades, simTrade{
			lender:   lender,
			borrower: borrower,
			info: contract.TradeInfo{
				TradeID:            int64(i + 1),
				Cusip:              cusips[rng.Intn(len(cusips))],
				SettlementDate:     settle,
				TradeDate:          settle.AddDays(-2),
				CollateralQuantity: qty,
				Price:              price,
				RepoRate:           rate,
				Term:               term,
				StartAmount:        start,
				EndAmount:          end,
				Currency:           "USD",
			},
		})
	}
	return b
}

func (b book) write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trade file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range b.trades {
		i := t.info
		row := []string{
			strconv.FormatInt(i.TradeID, 10), t.lender, t.borrower, i.Cusip,
			i.SettlementDate.String(), i.TradeDate.String(),
			i.CollateralQuantity.String(), i.Price.String(), i.RepoRate.String(),
			strconv.FormatInt(i.Term, 10), i.StartAmount.String(), i.EndAmount.String(), i.Currency,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// dates returns the distinct settlement dates in order.
func (b book) dates() []contract.Date {
	seen := make(map[contract.Date]bool)
	var out []contract.Date
	for _, t := range b.trades {
		if !seen[t.info.SettlementDate] {
			seen[t.info.SettlementDate] = true
			out = append(out, t.info.SettlementDate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (b book) count(date contract.Date) int {
	n := 0
	for _, t := range b.trades {
		if t.info.SettlementDate == date {
			n++
		}
	}
	return n
}

// holdings gives the clearing house twice the gross quantity traded per
// cusip, enough to deliver every net obligation.
func (b book) holdings() []operator.Holding {
	totals := make(map[string]decimal.Decimal)
	for _, t := range b.trades {
		totals[t.info.Cusip] = totals[t.info.Cusip].Add(t.info.CollateralQuantity)
	}
	out := make([]operator.Holding, 0, len(totals))
	for _, c := range cusips {
		if q, ok := totals[c]; ok {
			out = append(out, operator.Holding{Cusip: c, Quantity: q.Mul(decimal.NewFromInt(2))})
		}
	}
	return out
}
