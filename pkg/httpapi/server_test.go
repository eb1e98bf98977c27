package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCore struct {
	submitted *model.SubmitOrder
	result    model.SubmitResult
	orders    map[string]model.Order
	cancelErr error
	panicOn   string
}

func (s *stubCore) Submit(_ context.Context, req *model.SubmitOrder) (model.SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return model.SubmitResult{}, err
	}
	if req.Account == s.panicOn {
		panic("boom")
	}
	s.submitted = req
	return s.result, nil
}

func (s *stubCore) Cancel(_ context.Context, orderID string) (model.OrderStatus, error) {
	if s.cancelErr != nil {
		return "", s.cancelErr
	}
	if _, ok := s.orders[orderID]; !ok {
		return "", oms.ErrOrderNotFound
	}
	return model.OrderStatusCancelPending, nil
}

func (s *stubCore) GetOrder(orderID string) (model.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, oms.ErrOrderNotFound
	}
	return o, nil
}

func (s *stubCore) GetPosition(account, symbol string) model.Position {
	return model.Position{Account: account, Symbol: symbol, Quantity: decimal.NewFromInt(3)}
}

func (s *stubCore) History(orderID string) []*model.OrderEvent {
	return []*model.OrderEvent{{OrderID: orderID, To: model.OrderStatusNew}}
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func newTestServer(core *stubCore) *Server {
	return NewServer(":0", core, metrics.New(), logging.NewNop())
}

func TestSubmitOrder(t *testing.T) {
	core := &stubCore{result: model.SubmitResult{OrderID: "o1", Status: model.OrderStatusRouted}}
	srv := newTestServer(core)

	w := do(t, srv, http.MethodPost, "/v1/orders",
		`{"account":"A","symbol":"X","side":"BUY","type":"LIMIT","quantity":"0.1","price":"45000"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "o1", res.OrderID)
	assert.Equal(t, model.OrderStatusRouted, res.Status)
	require.NotNil(t, core.submitted)
	assert.True(t, core.submitted.Price.Decimal.Equal(decimal.NewFromInt(45000)))
}

func TestSubmitRiskRejectIsOK(t *testing.T) {
	core := &stubCore{result: model.SubmitResult{OrderID: "o2", Status: model.OrderStatusRejected, Reason: model.ReasonConcentrationLimit}}
	w := do(t, newTestServer(core), http.MethodPost, "/v1/orders",
		`{"account":"A","symbol":"Y","side":"BUY","type":"LIMIT","quantity":"2.5","price":"2400"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(model.ReasonConcentrationLimit))
}

func TestSubmitValidationErrorIs400(t *testing.T) {
	srv := newTestServer(&stubCore{})

	w := do(t, srv, http.MethodPost, "/v1/orders", `{"account":"A","symbol":"X","side":"BUY","type":"LIMIT","quantity":"-1","price":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_order")

	w = do(t, srv, http.MethodPost, "/v1/orders", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderLookupAndCancel(t *testing.T) {
	core := &stubCore{orders: map[string]model.Order{
		"o1": {OrderID: "o1", Status: model.OrderStatusRouted, Quantity: decimal.NewFromInt(1)},
	}}
	srv := newTestServer(core)

	w := do(t, srv, http.MethodGet, "/v1/orders/o1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"order_id":"o1"`)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/orders/missing", "").Code)

	w = do(t, srv, http.MethodDelete, "/v1/orders/o1", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), string(model.OrderStatusCancelPending))

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/v1/orders/missing", "").Code)

	core.cancelErr = oms.ErrInvalidOrderStatus
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodDelete, "/v1/orders/o1", "").Code)

	w = do(t, srv, http.MethodGet, "/v1/orders/o1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "o1")
}

func TestPositionHealthAndMetrics(t *testing.T) {
	srv := newTestServer(&stubCore{})

	w := do(t, srv, http.MethodGet, "/v1/positions/A/X", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"qty":"3"`)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)

	w = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestPanicIsRecovered(t *testing.T) {
	srv := newTestServer(&stubCore{panicOn: "boom"})
	w := do(t, srv, http.MethodPost, "/v1/orders",
		`{"account":"boom","symbol":"X","side":"BUY","type":"LIMIT","quantity":"1","price":"1"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
