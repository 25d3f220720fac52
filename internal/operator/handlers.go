package operator

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/bot"
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/pkg/response"
)

type GinHandlers struct {
	operator *Operator
	loop     bot.Controller
}

func NewGinHandlers(o *Operator, loop bot.Controller) *GinHandlers {
	return &GinHandlers{operator: o, loop: loop}
}

// InitiateSettlementHandler asks the clearing house to settle the date
// query parameter.
func (h *GinHandlers) InitiateSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("date")
		date, err := contract.ParseDate(raw)
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw))
			return
		}

		err = h.loop.Do(c.Request.Context(), func(context.Context, contract.Snapshot) ([]command.Batch, error) {
			b, err := h.operator.InitiateSettlement(date)
			if err != nil {
				return nil, err
			}
			return []command.Batch{b}, nil
		})
		if errors.Is(err, bot.ErrStopped) {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, gin.H{"settlement_date": date.String(), "message": "settlement requested"})
	}
}

func (h *GinHandlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/initiateSettlement", h.InitiateSettlementHandler())
	r.GET("/initiateSettlement", h.InitiateSettlementHandler())
}
