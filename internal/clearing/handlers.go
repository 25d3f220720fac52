package clearing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/bot"
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/pkg/response"
	"github.com/rs/zerolog/log"
)

// GinHandlers exposes the manual settlement trigger and trade inspection.
type GinHandlers struct {
	engine *Engine
	loop   bot.Controller
}

func NewGinHandlers(engine *Engine, loop bot.Controller) *GinHandlers {
	return &GinHandlers{engine: engine, loop: loop}
}

// SettleResponse reports the outcome of a manual settlement request.
type SettleResponse struct {
	SettlementDate string `json:"settlement_date"`
	TradesNovated  int    `json:"trades_novated"`
	Message        string `json:"message"`
}

// SettleHandler starts settlement for the date query parameter. A date with
// nothing to settle is not an error.
func (h *GinHandlers) SettleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("date")
		if raw == "" {
			response.BadRequest(c, "date query parameter is required (YYYY-MM-DD)")
			return
		}
		date, err := contract.ParseDate(raw)
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw))
			return
		}

		logger := log.With().Str("service", "clearing").Str("settlement_date", date.String()).Logger()

		result := SettleResponse{SettlementDate: date.String()}
		err = h.loop.Do(c.Request.Context(), func(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
			batches, err := h.engine.StartSettlement(snap, date)
			if errors.Is(err, ErrNothingToSettle) {
				result.Message = "nothing to settle"
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			result.TradesNovated = len(batches)
			result.Message = "settlement started"
			return batches, nil
		})

		switch {
		case errors.Is(err, ErrSettlementInProgress):
			response.Conflict(c, err.Error())
		case errors.Is(err, bot.ErrStopped):
			response.ServiceUnavailable(c, err.Error())
		case err != nil:
			logger.Error().Err(err).Msg("failed to start settlement")
			response.Handle(c, nil, err)
		default:
			logger.Info().Int("trades_novated", result.TradesNovated).Msg(result.Message)
			response.OK(c, result)
		}
	}
}

// TradeStateHandler returns outstanding trade counts per settlement date.
func (h *GinHandlers) TradeStateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counts := make(map[string]int)
		err := h.loop.Do(c.Request.Context(), func(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
			idx, err := BuildTradeIndex(snap, h.engine.Party())
			if err != nil {
				return nil, err
			}
			for d, n := range idx.Counts() {
				counts[d.String()] = n
			}
			return nil, nil
		})
		if errors.Is(err, bot.ErrStopped) {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, counts)
	}
}

// StatusHandler reports the settlement cycle state.
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status Status
		err := h.loop.Do(c.Request.Context(), func(context.Context, contract.Snapshot) ([]command.Batch, error) {
			status = h.engine.Status()
			return nil, nil
		})
		if errors.Is(err, bot.ErrStopped) {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, status)
	}
}

// RegisterRoutes mounts the control endpoints on a router group.
func (h *GinHandlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/settle", h.SettleHandler())
	r.GET("/settle", h.SettleHandler())
	r.GET("/tradeState", h.TradeStateHandler())
	r.GET("/status", h.StatusHandler())
}
