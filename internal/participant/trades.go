package participant

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ksred/klear-repo/internal/contract"
	"github.com/shopspring/decimal"
)

var ErrMalformedTrade = errors.New("malformed trade")

var tradeColumns = []string{
	"tradeId", "lender", "borrower", "cusip", "settlementDate", "tradeDate",
	"collateralQuantity", "price", "repoRate", "term", "startAmount", "endAmount", "currency",
}

// TradeRequest is one trade the lender asks its counterparty to register.
type TradeRequest struct {
	Borrower string
	Info     contract.TradeInfo
}

// TradeReader streams the trades a lender injects from a CSV trade file.
// The first line is a header naming the columns; rows lent by other parties
// are skipped.
type TradeReader struct {
	csv    *csv.Reader
	lender string
	cols   map[string]int
	row    int
}

func NewTradeReader(r io.Reader, lender string) *TradeReader {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	return &TradeReader{csv: cr, lender: lender}
}

// Next returns the next trade lent by the reader's party, or io.EOF.
func (t *TradeReader) Next() (TradeRequest, error) {
	if t.cols == nil {
		if err := t.readHeader(); err != nil {
			return TradeRequest{}, err
		}
	}
	for {
		record, err := t.csv.Read()
		if err == io.EOF {
			return TradeRequest{}, io.EOF
		}
		t.row++
		if err != nil {
			return TradeRequest{}, fmt.Errorf("%w: row %d: %v", ErrMalformedTrade, t.row, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < len(t.cols) {
			return TradeRequest{}, fmt.Errorf("%w: row %d: %d fields, want %d", ErrMalformedTrade, t.row, len(record), len(t.cols))
		}
		if t.field(record, "lender") != t.lender {
			continue
		}
		req, err := t.parse(record)
		if err != nil {
			return TradeRequest{}, fmt.Errorf("%w: row %d: %v", ErrMalformedTrade, t.row, err)
		}
		return req, nil
	}
}

func (t *TradeReader) readHeader() error {
	header, err := t.csv.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: empty trade file", ErrMalformedTrade)
	}
	if err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformedTrade, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range tradeColumns {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("%w: header is missing column %q", ErrMalformedTrade, name)
		}
	}
	t.cols = cols
	return nil
}

func (t *TradeReader) field(record []string, name string) string {
	return strings.TrimSpace(record[t.cols[name]])
}

func (t *TradeReader) parse(record []string) (TradeRequest, error) {
	var info contract.TradeInfo
	var err error

	if info.TradeID, err = strconv.ParseInt(t.field(record, "tradeId"), 10, 64); err != nil {
		return TradeRequest{}, fmt.Errorf("tradeId: %w", err)
	}
	if info.Term, err = strconv.ParseInt(t.field(record, "term"), 10, 64); err != nil {
		return TradeRequest{}, fmt.Errorf("term: %w", err)
	}
	if info.SettlementDate, err = contract.ParseDate(t.field(record, "settlementDate")); err != nil {
		return TradeRequest{}, fmt.Errorf("settlementDate: %w", err)
	}
	if info.TradeDate, err = contract.ParseDate(t.field(record, "tradeDate")); err != nil {
		return TradeRequest{}, fmt.Errorf("tradeDate: %w", err)
	}

	amounts := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"collateralQuantity", &info.CollateralQuantity},
		{"price", &info.Price},
		{"repoRate", &info.RepoRate},
		{"startAmount", &info.StartAmount},
		{"endAmount", &info.EndAmount},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(t.field(record, a.name)); err != nil {
			return TradeRequest{}, fmt.Errorf("%s: %w", a.name, err)
		}
	}

	info.Cusip = t.field(record, "cusip")
	info.Currency = t.field(record, "currency")
	borrower := t.field(record, "borrower")
	for name, v := range map[string]string{"borrower": borrower, "cusip": info.Cusip, "currency": info.Currency} {
		if v == "" {
			return TradeRequest{}, fmt.Errorf("%s is empty", name)
		}
	}
	return TradeRequest{Borrower: borrower, Info: info}, nil
}

// ReadTrades reads every trade lent by lender.
func ReadTrades(r io.Reader, lender string) ([]TradeRequest, error) {
	tr := NewTradeReader(r, lender)
	var out []TradeRequest
	for {
		req, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, req)
	}
}

// LoadTrades reads the trades lent by lender from a trade file.
func LoadTrades(path, lender string) ([]TradeRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade file: %w", err)
	}
	defer f.Close()
	return ReadTrades(f, lender)
}
