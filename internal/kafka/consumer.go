// Package kafka ingests study-record updates published by other services.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

const (
	batchWriteTimeout = 10 * time.Second
	// retryBackoff is the pause before a failed batch is redelivered
	retryBackoff = 2 * time.Second
)

// BatchHandler persists decoded study-record submissions
type BatchHandler interface {
	SubmitStudyRecordBatch(ctx context.Context, subs []domain.StudyRecordSubmission) (int, error)
}

// StudyRecordMessage is the wire format of a study-record update on the topic
type StudyRecordMessage struct {
	UserID           string `json:"user_id"`
	CurrentLearning  int    `json:"current_learning"`
	FinishedLearning int    `json:"finished_learning"`
	TotalScore       int    `json:"total_score"`
}

// Submission converts the message into a submission attributed to Kafka
func (m StudyRecordMessage) Submission() domain.StudyRecordSubmission {
	return domain.StudyRecordSubmission{
		UserID: m.UserID,
		Summary: domain.StudyRecordSummary{
			CurrentLearning:  m.CurrentLearning,
			FinishedLearning: m.FinishedLearning,
			TotalScore:       m.TotalScore,
		},
		Source: domain.SourceKafka,
	}
}

// decodeMessage parses and validates one message value
func decodeMessage(value []byte) (domain.StudyRecordSubmission, error) {
	var msg StudyRecordMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return domain.StudyRecordSubmission{}, fmt.Errorf("decoding study record message: %w", err)
	}
	if msg.UserID == "" {
		return domain.StudyRecordSubmission{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidRecord)
	}
	sub := msg.Submission()
	if err := sub.Summary.Validate(); err != nil {
		return domain.StudyRecordSubmission{}, err
	}
	return sub, nil
}

// Consumer reads study-record messages from a consumer group
type Consumer struct {
	config        *config.KafkaConfig
	handler       BatchHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan struct{}
}

// NewConsumer joins the configured consumer group
func NewConsumer(cfg *config.KafkaConfig, handler BatchHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger.With("component", "kafka"),
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan struct{}),
	}, nil
}

// Start consumes in the background and returns once the first session is
// set up, or ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting study record consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &groupHandler{consumer: c, ready: ready}
			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("consume failed", "error", err)
			}
			if c.ctx.Err() != nil {
				return
			}
			// only the first session signals readiness
			ready = nil
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("study record consumer ready")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop leaves the group, flushing the in-progress batch
func (c *Consumer) Stop() error {
	c.logger.Info("stopping study record consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	consumer *Consumer
	ready    chan struct{}
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	if h.ready != nil {
		close(h.ready)
	}
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches one partition's messages by size or timeout. Offsets
// are marked only after the batch they belong to was applied. A failed batch
// ends the claim unmarked, so the group redelivers it from the last committed
// offset.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger

	batch := newBatcher(cfg.BatchSize)
	timer := time.NewTimer(cfg.BatchTimeout)
	defer timer.Stop()

	flush := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), batchWriteTimeout)
		defer cancel()

		last, n, err := batch.handOff(ctx, h.consumer.handler)
		if err != nil {
			logger.Error("failed to apply study record batch, will redeliver",
				"error", err,
				"partition", claim.Partition(),
			)
			return err
		}
		if last != nil {
			session.MarkMessage(last, "")
			logger.Debug("applied study record batch", "applied", n, "offset", last.Offset)
		}
		return nil
	}

	fail := func(err error) error {
		select {
		case <-time.After(retryBackoff):
		case <-session.Context().Done():
		}
		return err
	}

	for {
		select {
		case <-session.Context().Done():
			return flush()

		case <-timer.C:
			if err := flush(); err != nil {
				return fail(err)
			}
			timer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return flush()
			}

			sub, err := decodeMessage(message.Value)
			if err != nil {
				logger.Warn("skipping study record message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				batch.skip(message)
				continue
			}

			if batch.add(sub, message) {
				if err := flush(); err != nil {
					return fail(err)
				}
				timer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// batcher accumulates submissions and tracks the newest message seen
type batcher struct {
	size int
	subs []domain.StudyRecordSubmission
	last *sarama.ConsumerMessage
}

func newBatcher(size int) *batcher {
	if size <= 0 {
		size = 1
	}
	return &batcher{size: size, subs: make([]domain.StudyRecordSubmission, 0, size)}
}

// add appends sub and reports whether the batch is full
func (b *batcher) add(sub domain.StudyRecordSubmission, msg *sarama.ConsumerMessage) bool {
	b.subs = append(b.subs, sub)
	b.last = msg
	return len(b.subs) >= b.size
}

// skip advances the offset without adding a submission
func (b *batcher) skip(msg *sarama.ConsumerMessage) {
	b.last = msg
}

// handOff applies the pending submissions and returns the newest message to
// mark. On failure it returns no message, leaving the offsets unmarked. The
// batch is reset either way.
func (b *batcher) handOff(ctx context.Context, handler BatchHandler) (*sarama.ConsumerMessage, int, error) {
	subs, last := b.drain()
	if last == nil || len(subs) == 0 {
		return last, 0, nil
	}
	n, err := handler.SubmitStudyRecordBatch(ctx, subs)
	if err != nil {
		return nil, 0, fmt.Errorf("applying %d study records: %w", len(subs), err)
	}
	return last, n, nil
}

// drain returns a copy of the pending submissions and the newest message,
// then resets
func (b *batcher) drain() ([]domain.StudyRecordSubmission, *sarama.ConsumerMessage) {
	subs := append([]domain.StudyRecordSubmission(nil), b.subs...)
	last := b.last
	b.subs = b.subs[:0]
	b.last = nil
	return subs, last
}
