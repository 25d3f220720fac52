package participant_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ksred/klear-repo/internal/participant"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "tradeId,lender,borrower,cusip,settlementDate,tradeDate,collateralQuantity,price,repoRate,term,startAmount,endAmount,currency\n"

const tradeFile = header +
	"1,Alice,Bob,912796RW1,2019-04-01,2019-03-29,100,99.5,0.0245,1,9950,9950.68,USD\n" +
	"2,Bob,Alice,912796RW1,2019-04-01,2019-03-29,50,99.5,0.0245,1,4975,4975.34,USD\n" +
	"3,Alice,Carol,912796QW2,2019-04-01,2019-03-29,25,101,0.03,7,2525,2526.47,USD\n"

func TestReadTradesFiltersByLender(t *testing.T) {
	trades, err := participant.ReadTrades(strings.NewReader(tradeFile), alice)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	first := trades[0]
	assert.Equal(t, bob, first.Borrower)
	assert.Equal(t, int64(1), first.Info.TradeID)
	assert.Equal(t, "912796RW1", first.Info.Cusip)
	assert.Equal(t, "2019-04-01", first.Info.SettlementDate.String())
	assert.Equal(t, "2019-03-29", first.Info.TradeDate.String())
	assert.True(t, first.Info.CollateralQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, first.Info.Price.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, first.Info.RepoRate.Equal(decimal.RequireFromString("0.0245")))
	assert.Equal(t, int64(1), first.Info.Term)
	assert.True(t, first.Info.EndAmount.Equal(decimal.RequireFromString("9950.68")))
	assert.Equal(t, "USD", first.Info.Currency)

	assert.Equal(t, "Carol", trades[1].Borrower)
	assert.Equal(t, int64(7), trades[1].Info.Term)
}

func TestReadTradesColumnOrderFollowsHeader(t *testing.T) {
	data := "currency,tradeId,lender,borrower,cusip,settlementDate,tradeDate,collateralQuantity,price,repoRate,term,startAmount,endAmount\n" +
		"EUR,9,Alice,Bob,X,2019-04-01,2019-03-29,1,1,0,1,1,1\n"
	trades, err := participant.ReadTrades(strings.NewReader(data), alice)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "EUR", trades[0].Info.Currency)
	assert.Equal(t, int64(9), trades[0].Info.TradeID)
}

func TestReadTradesSkipsBlankLines(t *testing.T) {
	trades, err := participant.ReadTrades(strings.NewReader(tradeFile+"\n\n"), bob)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestReadTradesMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
		row  string
	}{
		{"bad date", header + "1,Alice,Bob,X,2019-13-40,2019-03-29,1,1,0,1,1,1,USD\n", "row 1"},
		{"bad quantity", header + "1,Alice,Bob,X,2019-04-01,2019-03-29,1,1,0,1,1,1,USD\n2,Alice,Bob,X,2019-04-01,2019-03-29,lots,1,0,1,1,1,USD\n", "row 2"},
		{"bad trade id", header + "one,Alice,Bob,X,2019-04-01,2019-03-29,1,1,0,1,1,1,USD\n", "row 1"},
		{"short row", header + "1,Alice,Bob\n", "row 1"},
		{"empty cusip", header + "1,Alice,Bob,,2019-04-01,2019-03-29,1,1,0,1,1,1,USD\n", "row 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := participant.ReadTrades(strings.NewReader(tt.data), alice)
			require.ErrorIs(t, err, participant.ErrMalformedTrade)
			assert.Contains(t, err.Error(), tt.row)
		})
	}
}

func TestReadTradesBadHeader(t *testing.T) {
	_, err := participant.ReadTrades(strings.NewReader("tradeId,lender\n1,Alice\n"), alice)
	assert.ErrorIs(t, err, participant.ErrMalformedTrade)

	_, err = participant.ReadTrades(strings.NewReader(""), alice)
	assert.ErrorIs(t, err, participant.ErrMalformedTrade)
}

func TestTradeReaderStopsAtMalformedRow(t *testing.T) {
	data := header +
		"1,Alice,Bob,X,2019-04-01,2019-03-29,1,1,0,1,1,1,USD\n" +
		"2,Alice,Bob,X,bad,2019-03-29,1,1,0,1,1,1,USD\n" +
		"3,Alice,Bob,X,2019-04-01,2019-03-29,1,1,0,1,1,1,USD\n"
	tr := participant.NewTradeReader(strings.NewReader(data), alice)

	first, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Info.TradeID)

	_, err = tr.Next()
	assert.ErrorIs(t, err, participant.ErrMalformedTrade)
}

func TestLoadTrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, os.WriteFile(path, []byte(tradeFile), 0o600))

	trades, err := participant.LoadTrades(path, alice)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	_, err = participant.LoadTrades(filepath.Join(t.TempDir(), "missing.csv"), alice)
	assert.Error(t, err)
}

func TestTradeReaderEOF(t *testing.T) {
	tr := participant.NewTradeReader(strings.NewReader(header), alice)
	_, err := tr.Next()
	assert.Equal(t, io.EOF, err)
}
