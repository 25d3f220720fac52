package participant

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/pkg/response"
)

type GinHandlers struct {
	participant *Participant
	injector    *Injector
}

func NewGinHandlers(p *Participant, injector *Injector) *GinHandlers {
	return &GinHandlers{participant: p, injector: injector}
}

// InjectTradeFileHandler queues the trade file named by the fileName query
// parameter. Injection continues in the background.
func (h *GinHandlers) InjectTradeFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.participant.Onboarded() {
			response.BadRequest(c, "trading participant not set")
			return
		}
		fileName := c.Query("fileName")
		if fileName == "" {
			response.BadRequest(c, "No file name")
			return
		}
		if _, err := os.Stat(fileName); err != nil {
			response.BadRequest(c, fmt.Sprintf("No file named '%s'", fileName))
			return
		}
		if err := h.injector.Enqueue(fileName); err != nil {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.OK(c, gin.H{"message": "Injected", "file": fileName})
	}
}

func (h *GinHandlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/injectTradeFile", h.InjectTradeFileHandler())
	r.GET("/injectTradeFile", h.InjectTradeFileHandler())
}
