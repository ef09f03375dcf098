package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/drug-speak/internal/client"
	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/kafka"
)

// learner is the simulated progress of one user
type learner struct {
	current  int
	finished int
	score    int
}

// step advances the learner by one random study action
func (l *learner) step(rng *rand.Rand) {
	switch n := rng.Intn(10); {
	case n < 2:
		l.current++
	case n < 4 && l.current > 0:
		l.current--
		l.finished++
	default:
		l.score += rng.Intn(40) + 10
	}
}

func (l *learner) message(userID string) kafka.StudyRecordMessage {
	return kafka.StudyRecordMessage{
		UserID:           userID,
		CurrentLearning:  l.current,
		FinishedLearning: l.finished,
		TotalScore:       l.score,
	}
}

// discoverUsers lists the users that already have a study record
func discoverUsers(ctx context.Context, baseURL string) ([]string, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c, err := client.New(&config.ClientConfig{BaseURL: baseURL, Timeout: 10 * time.Second}, nil, logger)
	if err != nil {
		return nil, err
	}
	records, err := c.ListStudyRecords(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

func main() {
	_ = godotenv.Load()

	brokers := flag.String("brokers", envOr("KAFKA_BROKERS", "localhost:9094"), "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "study-records", "Kafka topic")
	users := flag.String("users", "", "User IDs to simulate (comma-separated); discovered from -api when empty")
	api := flag.String("api", envOr("DRUG_SPEAK_API", "http://localhost:3000"), "Service base URL used for user discovery")
	updatesPerSecond := flag.Int("rate", 20, "Updates per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only publish one record per user")
	flag.Parse()

	var userIDs []string
	if *users != "" {
		userIDs = strings.Split(*users, ",")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		ids, err := discoverUsers(ctx, *api)
		cancel()
		if err != nil {
			log.Fatalf("Failed to discover users: %v", err)
		}
		userIDs = ids
	}
	if len(userIDs) == 0 {
		log.Fatal("No users to simulate; pass -users or create accounts first")
	}
	if *updatesPerSecond <= 0 {
		log.Fatal("-rate must be positive")
	}

	fmt.Println("────────────────────────────────────────────")
	fmt.Println("  Drug Speak study record producer")
	fmt.Println("────────────────────────────────────────────")
	fmt.Printf("  Brokers:      %s\n", *brokers)
	fmt.Printf("  Topic:        %s\n", *topic)
	fmt.Printf("  Users:        %d\n", len(userIDs))
	fmt.Printf("  Updates/sec:  %d\n", *updatesPerSecond)
	fmt.Println("────────────────────────────────────────────")
	fmt.Println()

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	cfg.Producer.Flush.Messages = 100
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	// one partition per user keeps that user's updates in order
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), cfg)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	send := func(msg kafka.StudyRecordMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(msg.UserID),
			Value: sarama.ByteEncoder(data),
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	learners := make([]*learner, len(userIDs))
	for i, id := range userIDs {
		learners[i] = &learner{current: rng.Intn(4), finished: rng.Intn(3), score: rng.Intn(500)}
		send(learners[i].message(id))
	}
	fmt.Printf("Published initial records for %d users\n", len(userIDs))

	if *initialOnly {
		shutdown("Initial-only mode: exiting")
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	var updateCount int64
	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return
		case <-deadline:
			shutdown("Duration reached, shutting down...")
			return
		case <-ticker.C:
			i := rng.Intn(len(userIDs))
			learners[i].step(rng)
			send(learners[i].message(userIDs[i]))
			updateCount++
		case <-statsTicker.C:
			fmt.Printf("[%s] Updates: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				updateCount,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
