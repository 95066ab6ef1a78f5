package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/level-leaderboard/internal/config"
	"github.com/level-leaderboard/internal/domain"
	"github.com/level-leaderboard/internal/kafka"
	"github.com/level-leaderboard/internal/logging"
)

var nicknamePrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func nickname(idx int) string {
	return fmt.Sprintf("%s%d", nicknamePrefixes[idx%len(nicknamePrefixes)], idx/len(nicknamePrefixes)+1)
}

// randomCompletion picks a player and level; popular players finish more levels
func randomCompletion(rng *rand.Rand, players, levels int) domain.CompleteLevelRequest {
	playerIdx := rng.Intn(players)
	if players > 20 && rng.Intn(100) < 70 {
		playerIdx = rng.Intn(20)
	}
	level := rng.Intn(levels) + 1
	difficulty := level%5 + 1
	return domain.CompleteLevelRequest{
		Nickname:   nickname(playerIdx),
		LevelID:    fmt.Sprintf("L%d", level),
		LevelName:  fmt.Sprintf("Level %d", level),
		Difficulty: &difficulty,
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "level-completions", "Kafka topic")
	players := flag.Int("players", 1000, "Number of distinct players")
	levels := flag.Int("levels", 50, "Number of distinct levels")
	rate := flag.Int("rate", 100, "Completions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until interrupted)")
	flag.Parse()

	logger, err := logging.NewLogger(config.LoggingConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if *players <= 0 || *levels <= 0 || *rate <= 0 {
		logger.Error("players, levels and rate must be positive")
		os.Exit(2)
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), saramaConfig)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}

	var sent, failed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			sent.Add(1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			failed.Add(1)
			logger.Warn("producer error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("producing level completions",
		"brokers", *brokers,
		"topic", *topic,
		"players", *players,
		"levels", *levels,
		"rate", *rate,
	)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case <-ticker.C:
			req := randomCompletion(rng, *players, *levels)
			value, err := kafka.EncodeCompletion(req)
			if err != nil {
				logger.Warn("failed to encode completion", "error", err)
				continue
			}
			select {
			case producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(req.Nickname),
				Value: sarama.ByteEncoder(value),
			}:
			case <-ctx.Done():
				break loop
			}

		case <-statsTicker.C:
			logger.Info("progress", "sent", sent.Load(), "errors", failed.Load())
		}
	}

	producer.AsyncClose()
	wg.Wait()
	logger.Info("producer stopped", "sent", sent.Load(), "errors", failed.Load())
}
