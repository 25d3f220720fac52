package clearing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/bot"
	"github.com/ksred/klear-repo/internal/clearing"
	"github.com/ksred/klear-repo/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoop runs control functions against the fixture's current view.
type fakeLoop struct {
	f         *fixture
	calls     int
	submitted []command.Batch
	stopped   bool
}

func (l *fakeLoop) Do(ctx context.Context, fn bot.ControlFunc) error {
	if l.stopped {
		return bot.ErrStopped
	}
	l.calls++
	batches, err := fn(ctx, l.f.snapshot())
	if err != nil {
		return err
	}
	l.submitted = append(l.submitted, batches...)
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupRouter(e *clearing.Engine, loop bot.Controller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	clearing.NewGinHandlers(e, loop).RegisterRoutes(r)
	return r
}

func serve(t *testing.T, r *gin.Engine, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	r.ServeHTTP(w, req)

	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestSettleHandler(t *testing.T) {
	f := newFixture()
	f.trade(info(1, "X", dateD, 100, 9900))
	f.trade(info(2, "X", dateD, 50, 4950))
	e := newEngine(t, clearing.Config{})
	loop := &fakeLoop{f: f}
	r := setupRouter(e, loop)

	w, body := serve(t, r, http.MethodPost, "/settle?date=2019-04-01")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)
	var res clearing.SettleResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, "2019-04-01", res.SettlementDate)
	assert.Equal(t, 2, res.TradesNovated)
	assert.Len(t, loop.submitted, 2)
	assert.Equal(t, clearing.StateNovationPending, e.State())

	w, body = serve(t, r, http.MethodGet, "/settle?date=2019-04-02")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, body.Success)
	assert.Len(t, loop.submitted, 2)
}

func TestSettleHandlerRejectsBadDate(t *testing.T) {
	for _, target := range []string{"/settle?date=2019-13-40", "/settle?date=04/01/2019", "/settle"} {
		t.Run(target, func(t *testing.T) {
			f := newFixture()
			f.trade(info(1, "X", dateD, 100, 9900))
			e := newEngine(t, clearing.Config{})
			loop := &fakeLoop{f: f}

			w, body := serve(t, setupRouter(e, loop), http.MethodPost, target)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, body.Error)
			assert.Equal(t, "BAD_REQUEST", body.Error.Code)
			assert.Zero(t, loop.calls)
			assert.Empty(t, loop.submitted)
			assert.Equal(t, clearing.StateIdle, e.State())
		})
	}
}

func TestSettleHandlerNothingToSettle(t *testing.T) {
	e := newEngine(t, clearing.Config{})
	loop := &fakeLoop{f: newFixture()}

	w, body := serve(t, setupRouter(e, loop), http.MethodPost, "/settle?date=2019-04-01")
	require.Equal(t, http.StatusOK, w.Code)
	var res clearing.SettleResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, "nothing to settle", res.Message)
	assert.Empty(t, loop.submitted)
	assert.Equal(t, clearing.StateIdle, e.State())
}

func TestSettleHandlerStoppedBot(t *testing.T) {
	e := newEngine(t, clearing.Config{})
	loop := &fakeLoop{f: newFixture(), stopped: true}

	w, _ := serve(t, setupRouter(e, loop), http.MethodPost, "/settle?date=2019-04-01")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTradeStateHandler(t *testing.T) {
	f := newFixture()
	f.trade(info(1, "X", dateD, 100, 9900))
	f.trade(info(2, "X", dateD, 50, 4950))
	f.trade(info(3, "Y", dateD2, 10, 990))
	e := newEngine(t, clearing.Config{})

	w, body := serve(t, setupRouter(e, &fakeLoop{f: f}), http.MethodGet, "/tradeState")
	require.Equal(t, http.StatusOK, w.Code)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(body.Data, &counts))
	assert.Equal(t, map[string]int{"2019-04-01": 2, "2019-04-02": 1}, counts)
}

func TestStatusHandler(t *testing.T) {
	f := newFixture()
	f.trade(info(1, "X", dateD, 100, 9900))
	e := newEngine(t, clearing.Config{})
	loop := &fakeLoop{f: f}
	r := setupRouter(e, loop)

	serve(t, r, http.MethodPost, "/settle?date=2019-04-01")
	w, body := serve(t, r, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status clearing.Status
	require.NoError(t, json.Unmarshal(body.Data, &status))
	assert.Equal(t, "NOVATION_PENDING", status.State)
	assert.Equal(t, "2019-04-01", status.SettlementDate)
	assert.Equal(t, 1, status.TradesNovated)
}
