package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

// UpdateTopic is the routing key of a republished update.
func UpdateTopic(userID uuid.UUID) string {
	return fmt.Sprintf("im_notify.v1.%s.update", userID)
}

var (
	ErrQueueFull = errors.New("update dispatcher: queue full")
	ErrClosed    = errors.New("update dispatcher: closed")
)

// Encoder renders an update into its bus payload.
type Encoder func(userID uuid.UUID, u *model.DispatchedUpdate) ([]byte, error)

// UpdateDispatcher defines the high-level contract for outgoing updates.
type UpdateDispatcher interface {
	// Enqueue never blocks; it is called from engine goroutines.
	Enqueue(userID uuid.UUID, u *model.DispatchedUpdate) error
	Publish(ctx context.Context, userID uuid.UUID, u *model.DispatchedUpdate) error
	Publisher() message.Publisher
	Close() error
}

type outbound struct {
	userID uuid.UUID
	update *model.DispatchedUpdate
}

// updateDispatcher publishes through a circuit breaker from one worker.
type updateDispatcher struct {
	publisher message.Publisher
	encode    Encoder
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger

	queue     chan outbound
	doneCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type DispatcherOption func(*gobreaker.Settings)

// WithBreakerTimeout sets how long the breaker stays open before probing.
func WithBreakerTimeout(d time.Duration) DispatcherOption {
	return func(s *gobreaker.Settings) { s.Timeout = d }
}

// WithTripAfter opens the breaker after n consecutive publish failures.
func WithTripAfter(n uint32) DispatcherOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= n }
	}
}

func NewUpdateDispatcher(pub message.Publisher, encode Encoder, logger *slog.Logger, queueSize int, opts ...DispatcherOption) UpdateDispatcher {
	logger = logger.With("component", "update_dispatcher")
	settings := gobreaker.Settings{
		Name:    "outbound-updates",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("BREAKER_STATE_CHANGED", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if queueSize <= 0 {
		queueSize = 1024
	}

	d := &updateDispatcher{
		publisher: pub,
		encode:    encode,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		logger:    logger,
		queue:     make(chan outbound, queueSize),
		doneCh:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

func (d *updateDispatcher) Enqueue(userID uuid.UUID, u *model.DispatchedUpdate) error {
	select {
	case <-d.doneCh:
		return ErrClosed
	default:
	}
	select {
	case d.queue <- outbound{userID: userID, update: u}:
		return nil
	default:
		d.logger.Warn("OUTBOUND_UPDATE_DROPPED", "user_id", userID, "reason", "queue_full")
		return ErrQueueFull
	}
}

func (d *updateDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.doneCh:
			return
		case ob := <-d.queue:
			if err := d.Publish(context.Background(), ob.userID, ob.update); err != nil {
				d.logger.Warn("OUTBOUND_PUBLISH_FAILED", "user_id", ob.userID, "err", err)
			}
		}
	}
}

// Publish sends one update synchronously. An open breaker fails fast.
func (d *updateDispatcher) Publish(ctx context.Context, userID uuid.UUID, u *model.DispatchedUpdate) error {
	if u == nil {
		return fmt.Errorf("update dispatcher: cannot publish nil update")
	}

	payload, err := d.encode(userID, u)
	if err != nil {
		return fmt.Errorf("update dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("user_id", userID.String())

	topic := UpdateTopic(userID)
	_, err = d.breaker.Execute(func() (interface{}, error) {
		return nil, d.publisher.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("update dispatcher: publish to %s: %w", topic, err)
	}
	return nil
}

func (d *updateDispatcher) Publisher() message.Publisher {
	return d.publisher
}

// Close stops the worker. Updates still queued are discarded.
func (d *updateDispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.doneCh)
		d.wg.Wait()
	})
	return nil
}
