package mqadapter

import (
	"context"
	"fmt"

	"github.com/oarkflow/json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// Config describes a RabbitMQ endpoint. Targets name the queue rows are
// published to. Queues are write-only destinations; loading from one is
// not supported.
type Config struct {
	URI string `json:"uri"`
}

func (cfg Config) Validate() error {
	if cfg.URI == "" {
		return fmt.Errorf("rabbitmq config: uri must be provided")
	}
	return nil
}

type Adapter struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, contracts.WrapErr(contracts.KindRabbitMQ, contracts.OpConnect, err)
	}
	conn, err := amqp.Dial(cfg.URI)
	if err != nil {
		return nil, contracts.Errorf(contracts.KindRabbitMQ, contracts.OpConnect, "dial: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, contracts.Errorf(contracts.KindRabbitMQ, contracts.OpConnect, "open channel: %v", err)
	}
	return &Adapter{conn: conn, channel: ch}, nil
}

func (a *Adapter) Load(ctx context.Context, target string, opts ...contracts.Option) (*tabular.Table, error) {
	return nil, contracts.Errorf(contracts.KindRabbitMQ, contracts.OpRead, "queues cannot be used as a source")
}

func (a *Adapter) Write(ctx context.Context, table *tabular.Table, target string, mode contracts.WriteMode) error {
	queue := target
	if queue == "" {
		queue = "default"
	}
	if _, err := a.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return contracts.Errorf(contracts.KindRabbitMQ, contracts.OpWrite, "declare queue %s: %v", queue, err)
	}
	if table == nil {
		return nil
	}
	for _, row := range table.Rows {
		data, err := json.Marshal(row)
		if err != nil {
			return contracts.WrapErr(contracts.KindRabbitMQ, contracts.OpWrite, err)
		}
		err = a.channel.Publish(
			"",
			queue,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        data,
			},
		)
		if err != nil {
			return contracts.Errorf(contracts.KindRabbitMQ, contracts.OpWrite, "publish to %s: %v", queue, err)
		}
	}
	return nil
}

func (a *Adapter) Test(ctx context.Context, target string) (bool, string) {
	if a.conn == nil || a.conn.IsClosed() {
		return false, "connection is closed"
	}
	if target != "" {
		if _, err := a.channel.QueueDeclarePassive(target, true, false, false, false, nil); err != nil {
			return false, fmt.Sprintf("queue %s not reachable: %v", target, err)
		}
	}
	return true, "connection successful"
}

func (a *Adapter) Close() error {
	if a.channel != nil {
		_ = a.channel.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
