// Package bus carries order-core messages between the core and the execution
// adapter, over Kafka or in process.
package bus

import (
	"context"

	"github.com/joripage/oms-core/pkg/oms"
	"github.com/joripage/oms-core/pkg/oms/model"
)

const (
	headerKind = "kind"

	KindRouteOrder     = "route_order"
	KindCancelRequest  = "cancel_request"
	KindPositionUpdate = "position_update"
)

type jsonPublisher interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
}

type Topics struct {
	Route    string
	Cancel   string
	Position string
}

// KafkaPublisher keys route and cancel messages by order id so one order's
// messages stay on one partition. Position updates are keyed by account.
type KafkaPublisher struct {
	producer jsonPublisher
	topics   Topics
}

var _ oms.OrderGateway = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer jsonPublisher, topics Topics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

func (p *KafkaPublisher) PublishRoute(ctx context.Context, route model.RouteOrder) error {
	return p.producer.PublishJSON(ctx, p.topics.Route, route.OrderID, route, map[string]string{headerKind: KindRouteOrder})
}

func (p *KafkaPublisher) PublishCancel(ctx context.Context, req model.CancelRequest) error {
	return p.producer.PublishJSON(ctx, p.topics.Cancel, req.OrderID, req, map[string]string{headerKind: KindCancelRequest})
}

func (p *KafkaPublisher) PublishPositionUpdate(ctx context.Context, update model.PositionUpdate) error {
	return p.producer.PublishJSON(ctx, p.topics.Position, update.Account, update, map[string]string{headerKind: KindPositionUpdate})
}
