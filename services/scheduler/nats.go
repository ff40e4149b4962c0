package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meghashyamc/presssync/logger"
	"github.com/nats-io/nats.go"
)

const natsQueueGroup = "presssync-workers"

type batchTrigger struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NATS publishes batch triggers on a subject and consumes them through a
// queue subscription, so each trigger is handled by exactly one worker.
type NATS struct {
	logger  logger.Logger
	runner  BatchRunner
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	publish func(subject string, data []byte) error
}

func NewNATS(logger logger.Logger, url string, subject string, runner BatchRunner) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("presssync"))
	if err != nil {
		logger.Error("could not connect to NATS", "url", url, "err", err.Error())
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	n := &NATS{
		logger:  logger,
		runner:  runner,
		conn:    conn,
		subject: subject,
		publish: conn.Publish,
	}

	sub, err := conn.QueueSubscribe(subject, natsQueueGroup, n.handle)
	if err != nil {
		conn.Close()
		logger.Error("could not subscribe to batch triggers", "subject", subject, "err", err.Error())
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	n.sub = sub

	return n, nil
}

func (n *NATS) ScheduleBatch(ctx context.Context) error {
	data, err := json.Marshal(batchTrigger{RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := n.publish(n.subject, data); err != nil {
		n.logger.Error("could not publish batch trigger", "subject", n.subject, "err", err.Error())
		return fmt.Errorf("failed to publish batch trigger: %w", err)
	}
	return nil
}

func (n *NATS) Close() error {
	if n.sub != nil {
		if err := n.sub.Unsubscribe(); err != nil {
			n.logger.Warn("could not unsubscribe from batch triggers", "err", err.Error())
		}
	}
	if n.conn != nil {
		return n.conn.Drain()
	}
	return nil
}

func (n *NATS) handle(msg *nats.Msg) {
	var trigger batchTrigger
	if err := json.Unmarshal(msg.Data, &trigger); err != nil {
		n.logger.Warn("ignoring malformed batch trigger", "subject", msg.Subject, "err", err.Error())
		return
	}
	n.logger.Debug("batch trigger received", "requested_at", trigger.RequestedAt)
	runBatch(context.Background(), n.logger, n.runner)
}
