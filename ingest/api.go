package ingest

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/konnect-im/konnectd/wire"
)

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// ISender routes one message. Implemented by route.Router.
type ISender interface {
	Send(ctx context.Context, sender string, req *wire.SendReq) (*wire.Ack, error)
}
