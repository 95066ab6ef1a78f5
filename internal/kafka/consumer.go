package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/level-leaderboard/internal/config"
	"github.com/level-leaderboard/internal/domain"
)

// batchProcessTimeout bounds a single batch write to the database
const batchProcessTimeout = 10 * time.Second

// CompletionHandler records level completions delivered by the consumer
type CompletionHandler interface {
	CompleteLevelBatch(ctx context.Context, batch []domain.CompleteLevelRequest) (int, error)
}

// Consumer consumes level completion events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       CompletionHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler CompletionHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger.With("component", "kafka_consumer"),
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming and returns once the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			// Later sessions signal nobody
			ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

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

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	config  *config.KafkaConfig
	handler CompletionHandler
	logger  *slog.Logger
	ready   chan bool
	once    sync.Once
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches completions from a partition and hands them to the handler.
// Offsets are marked only after the batch they belong to was processed.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]domain.CompleteLevelRequest, 0, h.config.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(h.config.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if last == nil {
			return
		}
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), batchProcessTimeout)
			processed, err := h.handler.CompleteLevelBatch(ctx, batch)
			cancel()
			if err != nil {
				h.logger.Error("failed to process batch", "error", err, "batch_size", len(batch))
			} else {
				h.logger.Debug("processed batch", "batch_size", len(batch), "processed", processed)
			}
		}
		session.MarkMessage(last, "")
		batch = batch[:0]
		last = nil
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(h.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			last = message

			req, err := decodeCompletion(message.Value)
			if err != nil {
				h.logger.Warn("skipping completion event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, req)
			if len(batch) >= h.config.BatchSize {
				flush()
				batchTimer.Reset(h.config.BatchTimeout)
			}
		}
	}
}

// decodeCompletion parses and validates one completion event.
// The action field is optional on the topic; when present it must be complete_level.
func decodeCompletion(value []byte) (domain.CompleteLevelRequest, error) {
	var req domain.CompleteLevelRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return req, fmt.Errorf("decoding completion: %w", err)
	}
	if req.Action != "" && req.Action != domain.ActionCompleteLevel {
		return req, fmt.Errorf("unexpected action %q", req.Action)
	}

	req = req.Normalize()
	req.Action = domain.ActionCompleteLevel
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeCompletion renders a completion event the way the consumer expects it
func EncodeCompletion(req domain.CompleteLevelRequest) ([]byte, error) {
	req.Action = domain.ActionCompleteLevel
	req.Nickname = strings.TrimSpace(req.Nickname)
	return json.Marshal(req)
}
