package clearing

import (
	"sort"

	"github.com/ksred/klear-repo/internal/contract"
)

// IndexedTrade is an outstanding trade and its contract id.
type IndexedTrade struct {
	ID    string
	Trade *contract.Trade
}

// TradeIndex groups outstanding trades by settlement date. It is rebuilt
// from every snapshot and never updated in place.
type TradeIndex struct {
	byDate map[contract.Date][]IndexedTrade
}

// BuildTradeIndex indexes the trades cleared through ccp. Trades keep their
// snapshot order within a date.
func BuildTradeIndex(snap contract.Snapshot, ccp string) (TradeIndex, error) {
	idx := TradeIndex{byDate: make(map[contract.Date][]IndexedTrade)}
	for _, c := range snap.Contracts(contract.TradeTemplate) {
		t, err := contract.As[*contract.Trade](c)
		if err != nil {
			return TradeIndex{}, err
		}
		if t.CCP != ccp {
			continue
		}
		date := t.Info.SettlementDate
		idx.byDate[date] = append(idx.byDate[date], IndexedTrade{ID: c.ID, Trade: t})
	}
	return idx, nil
}

func (i TradeIndex) Trades(date contract.Date) []IndexedTrade {
	return i.byDate[date]
}

// Counts returns the number of outstanding trades per settlement date.
func (i TradeIndex) Counts() map[contract.Date]int {
	out := make(map[contract.Date]int, len(i.byDate))
	for d, trades := range i.byDate {
		out[d] = len(trades)
	}
	return out
}

func (i TradeIndex) Total() int {
	n := 0
	for _, trades := range i.byDate {
		n += len(trades)
	}
	return n
}

// Dates returns the indexed settlement dates in ascending order.
func (i TradeIndex) Dates() []contract.Date {
	dates := make([]contract.Date, 0, len(i.byDate))
	for d := range i.byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })
	return dates
}
