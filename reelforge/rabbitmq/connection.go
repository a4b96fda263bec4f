package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LerianStudio/lib-reelforge/reelforge/log"
)

// DefaultExchange is the topic exchange progress events are published to.
const DefaultExchange = "reelforge.progress"

// ErrInvalidURL is returned when the AMQP URL is empty.
var ErrInvalidURL = errors.New("rabbitmq url is required")

// Connection is one AMQP connection with a dedicated publishing channel.
type Connection struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

// Dial connects to url, opens a channel and declares exchange as a durable
// topic exchange.
func Dial(ctx context.Context, rawURL, exchange string, logger log.Logger) (*Connection, error) {
	logger = log.OrNop(logger)

	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrInvalidURL
	}

	if exchange == "" {
		exchange = DefaultExchange
	}

	cfg := amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(15 * time.Second),
	}

	if deadline, ok := ctx.Deadline(); ok {
		cfg.Dial = amqp.DefaultDial(time.Until(deadline))
	}

	logger.Log(ctx, log.LevelInfo, "connecting to rabbitmq")

	conn, err := amqp.DialConfig(rawURL, cfg)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to connect to rabbitmq",
			log.String("error_detail", sanitizeAMQPErr(err, rawURL)))

		return nil, newSanitizedError(err, rawURL, "failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to open channel on rabbitmq: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	logger.Log(ctx, log.LevelInfo, "connected to rabbitmq", log.String("exchange", exchange))

	return &Connection{conn: conn, Channel: ch}, nil
}

// Close closes the connection and with it the channel.
func (c *Connection) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// sanitizedError keeps credentials out of Error while Unwrap still exposes
// the original for errors.Is and errors.As.
type sanitizedError struct {
	original error
	message  string
}

func (e *sanitizedError) Error() string { return e.message }

func (e *sanitizedError) Unwrap() error { return e.original }

func newSanitizedError(err error, connectionString, prefix string) error {
	return fmt.Errorf("%s: %w", prefix, &sanitizedError{
		original: err,
		message:  sanitizeAMQPErr(err, connectionString),
	})
}

func sanitizeAMQPErr(err error, connectionString string) string {
	if err == nil {
		return ""
	}

	errMsg := err.Error()

	referenceURL, parseErr := url.Parse(connectionString)
	if connectionString == "" || parseErr != nil {
		return errMsg
	}

	errMsg = strings.ReplaceAll(errMsg, connectionString, referenceURL.Redacted())

	if referenceURL.User != nil {
		if pass, ok := referenceURL.User.Password(); ok && pass != "" {
			errMsg = strings.ReplaceAll(errMsg, pass, "xxxxx")
		}
	}

	return errMsg
}
