package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func errorBody(code, msg string) errorResponse {
	return errorResponse{Code: code, Message: msg}
}

type orderResponse struct {
	OrderID        string              `json:"order_id"`
	Account        string              `json:"account"`
	Symbol         string              `json:"symbol"`
	Side           model.OrderSide     `json:"side"`
	Type           model.OrderType     `json:"type"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	StopPrice      decimal.NullDecimal `json:"stop_price"`
	Status         model.OrderStatus   `json:"status"`
	Reason         model.RejectReason  `json:"reason,omitempty"`
	FilledQuantity decimal.Decimal     `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal     `json:"avg_fill_price"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func newOrderResponse(o model.Order) orderResponse {
	return orderResponse{
		OrderID:        o.OrderID,
		Account:        o.Account,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		Quantity:       o.Quantity,
		Price:          o.Price,
		StopPrice:      o.StopPrice,
		Status:         o.Status,
		Reason:         o.Reason,
		FilledQuantity: o.FilledQuantity,
		AvgFillPrice:   o.AvgFillPrice,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

// submitOrder answers 400 for a malformed order and 200 for both accepted and
// risk-rejected orders; a rejection carries its reason.
func (s *Server) submitOrder(c *gin.Context) {
	var req model.SubmitOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}

	res, err := s.core.Submit(c.Request.Context(), &req)
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_order", Message: vErr.Error(), Field: vErr.Field})
			return
		}
		s.logger.Error(c.Request.Context(), "submit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", err.Error()))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.core.GetOrder(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	status, err := s.core.Cancel(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": id, "status": status})
}

func (s *Server) orderHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.core.GetOrder(id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.core.History(id))
}

func (s *Server) getPosition(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.GetPosition(c.Param("account"), c.Param("symbol")))
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, oms.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, errorBody("not_found", err.Error()))
	case errors.Is(err, oms.ErrInvalidOrderStatus):
		c.JSON(http.StatusConflict, errorBody("invalid_status", err.Error()))
	case errors.Is(err, oms.ErrAdapterUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorBody("adapter_unavailable", err.Error()))
	default:
		s.logger.Error(c.Request.Context(), "request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", err.Error()))
	}
}
