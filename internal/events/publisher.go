// Package events publishes circulation activity to a RabbitMQ topic exchange.
package events

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"circulationapi/internal/entity"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	RoutingKeyBookSaved = "catalog.book.saved"
	routingKeyPrefix    = "circulation."
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// TransactionEvent is the body published for every borrow and return.
type TransactionEvent struct {
	ID         string        `json:"id"`
	Username   string        `json:"username"`
	Title      string        `json:"title"`
	Action     entity.Action `json:"action"`
	Fine       entity.Money  `json:"fine"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type BookEvent struct {
	Title           string            `json:"title"`
	CopiesTotal     int               `json:"copies_total"`
	CopiesAvailable int               `json:"copies_available"`
	Visibility      entity.Visibility `json:"visibility"`
	Version         int64             `json:"version"`
}

// Publisher forwards committed changes to an exchange. It satisfies
// store.Journal so it can sit next to the database journal in the
// write-behind queue. Account records are not published.
type Publisher struct {
	ch       Channel
	conn     io.Closer
	exchange string
}

func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &Publisher{ch: ch, conn: conn, exchange: exchange}, nil
}

func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *Publisher) publish(ctx context.Context, key, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *Publisher) SaveBook(ctx context.Context, b entity.Book) error {
	return p.publish(ctx, RoutingKeyBookSaved, fmt.Sprintf("%s@%d", b.Title, b.Version), BookEvent{
		Title:           b.Title,
		CopiesTotal:     b.CopiesTotal,
		CopiesAvailable: b.CopiesAvailable,
		Visibility:      b.Visibility,
		Version:         b.Version,
	})
}

func (p *Publisher) SaveAccount(context.Context, entity.Account) error {
	return nil
}

// AppendTransaction publishes tx as circulation.borrow or circulation.return.
func (p *Publisher) AppendTransaction(ctx context.Context, tx entity.Transaction) error {
	return p.publish(ctx, RoutingKey(tx.Action), tx.ID, TransactionEvent{
		ID:         tx.ID,
		Username:   tx.Username,
		Title:      tx.Title,
		Action:     tx.Action,
		Fine:       tx.Fine,
		OccurredAt: tx.OccurredAt,
	})
}

func RoutingKey(a entity.Action) string {
	return routingKeyPrefix + strings.ToLower(string(a))
}
