package outputs

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/logging"
)

func init() {
	Register("amqp", newAMQP)
}

// amqpOutput publishes each event, JSON-encoded, to an exchange/routing
// key pair, per the common Logstash-compatible amqp output shape.
type amqpOutput struct {
	cfg     *config.OutputConfig
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func newAMQP(cfg *config.OutputConfig, _ *logging.Logger) (adapter, error) {
	if len(cfg.Host.Values) == 0 {
		return nil, fmt.Errorf("amqp output: host is required")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp output: exchange is required")
	}
	url := fmt.Sprintf("amqp://%s:%d/", cfg.Host.Values[0], orPort(cfg.Port, 5672))
	return &amqpOutput{cfg: cfg, url: url}, nil
}

func (o *amqpOutput) Connect() error {
	if o.conn != nil && !o.conn.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(o.url)
	if err != nil {
		return fmt.Errorf("amqp output: dialing %s: %w", o.url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp output: opening channel: %w", err)
	}
	o.conn = conn
	o.channel = ch
	return nil
}

func (o *amqpOutput) Close() error {
	var err error
	if o.channel != nil {
		err = o.channel.Close()
	}
	if o.conn != nil {
		if cerr := o.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	o.channel = nil
	o.conn = nil
	return err
}

func (o *amqpOutput) Push(events []*event.Event) error {
	if err := o.Connect(); err != nil {
		return err
	}
	for _, e := range events {
		line, err := encodeJSON(e)
		if err != nil {
			return fmt.Errorf("amqp output: encoding event: %w", err)
		}
		err = o.channel.Publish(o.cfg.Exchange, o.cfg.RoutingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        line,
		})
		if err != nil {
			return fmt.Errorf("amqp output: publishing: %w", err)
		}
	}
	return nil
}
