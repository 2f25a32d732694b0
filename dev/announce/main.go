package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/konnect-im/konnectd/ingest"
)

// The announce tool mocks a business server that publishes announcements to
// kafka for konnectd to fan out.

const (
	kafkaTopic = "konnectd-announcements"
)

var (
	kafkaEndpoints = flag.String("kafka-endpoints", "127.0.0.1:9092", "kafka endpoints, ',' delimitted.")
	tickerDuration = flag.Duration("ticker-duration", 30*time.Second, "ticker duration")
	recipients     = flag.String("to", "alice,bob", "recipient identities, ',' delimitted.")
	body           = flag.String("body", "hello", "announcement body")
)

func main() {
	flag.Parse()

	if len(*kafkaEndpoints) == 0 {
		panic("--kafka-endpoints is required.")
	}

	endpoints := strings.Split(*kafkaEndpoints, ",")

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  endpoints,
		Topic:    kafkaTopic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})

	ticker := time.NewTicker(*tickerDuration)
	defer func() {
		ticker.Stop()
	}()

	// kafka-topics.sh --bootstrap-server localhost:9092 --topic konnectd-announcements --create
	// kafka-topics.sh --bootstrap-server localhost:9092 --topic konnectd-announcements --delete

	var i int = 0
	for range ticker.C {
		a := &ingest.Announcement{
			To:   strings.Split(*recipients, ","),
			Body: *body,
			Kind: "text",
		}

		value, err := json.Marshal(a)
		if err != nil {
			panic(err)
		}

		msg := kafka.Message{
			Key:   []byte(fmt.Sprintf("%d", i)),
			Value: value,
		}
		if err := w.WriteMessages(context.Background(), msg); err != nil {
			panic(err)
		}

		i++
	}
}
