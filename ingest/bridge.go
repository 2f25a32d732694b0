// Package ingest bridges server-side announcements from kafka into the
// message router. Delivery is at-least-once: a message is committed back to
// kafka only after every recipient was routed, so a crash in between makes
// the next fetch replay it.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/konnect-im/konnectd/route"
	"github.com/konnect-im/konnectd/wire"
)

const (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

// Announcement is the kafka message value.
type Announcement struct {
	To   []string `json:"to,omitempty"`
	Body string   `json:"body,omitempty"`
	Kind string   `json:"kind,omitempty"`
}

// Bridge consumes announcements from kafka and routes them as ordinary
// messages from a fixed system identity.
type Bridge struct {
	sender        ISender
	kafkaReader   IKafkaReader
	fromIdentity  string
	maxAgeDays    int32
	valueMaxBytes int32
	wg            sync.WaitGroup
}

func NewBridge(sender ISender, kafkaReader IKafkaReader, fromIdentity string, maxAgeDays, valueMaxBytes int32) *Bridge {
	return &Bridge{
		sender:        sender,
		kafkaReader:   kafkaReader,
		fromIdentity:  fromIdentity,
		maxAgeDays:    maxAgeDays,
		valueMaxBytes: valueMaxBytes,
	}
}

// Run blocks until ctx is cancelled, then closes the reader and waits for the
// consume loop to drain.
func (b *Bridge) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("bridge: enter")

	// Add before the goroutine starts so a cancellation racing startup
	// cannot slip past the Wait below.
	b.wg.Add(1)
	go b.consumeLoop(ctx)

	glog.Info("bridge: ready")
	<-ctx.Done()

	glog.Info("bridge: stopping")
	_ = b.kafkaReader.Close() // slow: take about 7s

	b.wg.Wait()
	glog.Info("bridge: stopped")
	stopDoneNotifyC <- struct{}{}
}

func (b *Bridge) consumeLoop(ctx context.Context) {
	glog.Info("bridge: consume loop enter")

	defer func() {
		glog.Info("bridge: consume loop exited")
		b.wg.Done()
	}()

	var sleep time.Duration

	for {
		glog.V(5).Info("bridge: fetching message ...")
		msg, err := b.kafkaReader.FetchMessage(ctx)

		if err != nil {
			glog.Errorf("bridge: fetch from kafka err: %v", err)
			if err == context.Canceled {
				glog.V(5).Info("bridge: fetch was cancelled")
				return
			}
			backoff(&sleep)
			select {
			case <-time.After(sleep):
				continue
			case <-ctx.Done():
				return
			}
		}
		sleep = 0

		// skip: bad format, oversize or too old.
		if value := b.decodeKafkaMsg(&msg); value != nil {
			if !b.deliver(ctx, value) {
				return
			}
		}

		for {
			if err := b.kafkaReader.CommitMessages(ctx, msg); err == nil {
				sleep = 0
				break
			} else {
				// If this message is not committed back, it will be fetched again
				// by the next FetchMessage(). Recipients routed before the crash
				// get the announcement twice.
				glog.Errorf("bridge: commit to kafka err: %v", err)
				if err == context.Canceled {
					glog.V(5).Info("bridge: commit to kafka was cancelled")
					return
				}
				backoff(&sleep)
				select {
				case <-time.After(sleep):
					continue
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// deliver routes the announcement to each recipient, retrying storage
// failures per recipient so earlier recipients are not routed twice.
// Returns false when cancelled.
func (b *Bridge) deliver(ctx context.Context, value *Announcement) bool {
	var sleep time.Duration

	for _, recipient := range value.To {
		req := &wire.SendReq{To: recipient, Content: value.Body, Kind: value.Kind}
		for {
			glog.V(5).Infof("bridge: routing to %s", recipient)
			_, err := b.sender.Send(ctx, b.fromIdentity, req)
			if err == nil {
				sleep = 0
				announcementsTotal.Inc()
				break
			}
			if errors.Is(err, route.ErrInvalidMessage) {
				glog.Errorf("bridge: drop announcement for %q: %v", recipient, err)
				break
			}
			glog.Errorf("bridge: route to %q err: %v", recipient, err)
			if err == context.Canceled {
				return false
			}
			backoff(&sleep)
			select {
			case <-time.After(sleep):
				continue
			case <-ctx.Done():
				return false
			}
		}
	}
	return true
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d < BackoffMaxInterval {
			*d = d.Truncate(time.Millisecond)
		} else {
			*d = BackoffMinInterval
		}
	}
}

func (b *Bridge) shouldDiscard(msg *kafka.Message) bool {
	return b.maxAgeDays > 0 && time.Since(msg.Time) > time.Duration(b.maxAgeDays)*24*time.Hour
}

func (b *Bridge) decodeKafkaMsg(msg *kafka.Message) *Announcement {
	if b.valueMaxBytes > 0 && len(msg.Value) > int(b.valueMaxBytes) {
		glog.Errorf("bridge: kafka value out of limit, msg.Value: %s", string(msg.Value))
		return nil
	}
	var v Announcement
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		glog.Errorf("bridge: failed to unmarshal kafka msg value: `%s`, error: %v", msg.Value, err)
		return nil
	}
	if len(v.To) == 0 || v.Body == "" {
		glog.Errorf("bridge: incomplete announcement: `%s`", msg.Value)
		return nil
	}

	if b.shouldDiscard(msg) {
		glog.Errorf("bridge: ignore incoming message because too old, msg.Offset: %d, msg.Time: %s", msg.Offset, msg.Time)
		return nil
	}

	return &v
}
