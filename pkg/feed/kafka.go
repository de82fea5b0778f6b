package feed

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSource reads one shared Kafka topic where every message is keyed by its feed
// topic. A subscription reads only the partition the publisher's hash balancer picks
// for its key, starting at that partition's tail as resolved during Subscribe, so
// every finding published after Subscribe returns is delivered. No consumer group is
// joined and no offsets are committed.
type KafkaSource struct {
	brokers []string
	topic   string
	dialer  *kafka.Dialer
}

func NewKafkaSource(brokers []string, topic string) *KafkaSource {
	return &KafkaSource{
		brokers: brokers,
		topic:   topic,
		dialer:  &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	}
}

func (k *KafkaSource) Subscribe(ctx context.Context, feedTopic string) (Stream, error) {
	if len(k.brokers) == 0 {
		return nil, fmt.Errorf("kafka subscribe: no brokers configured")
	}
	partition, offset, err := k.tail(ctx, feedTopic)
	if err != nil {
		return nil, err
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: partition,
		Dialer:    k.dialer,
		MinBytes:  1,
		MaxBytes:  1 << 20,
		MaxWait:   500 * time.Millisecond,
	})
	if err := r.SetOffset(offset); err != nil {
		r.Close()
		return nil, fmt.Errorf("kafka subscribe %s: set offset: %w", feedTopic, err)
	}
	return &kafkaStream{reader: r, key: feedTopic}, nil
}

// tail finds the partition carrying feedTopic and its current end offset.
func (k *KafkaSource) tail(ctx context.Context, feedTopic string) (int, int64, error) {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return 0, 0, fmt.Errorf("kafka subscribe: dial: %w", err)
	}
	parts, err := conn.ReadPartitions(k.topic)
	conn.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("kafka subscribe: read partitions of %s: %w", k.topic, err)
	}
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.ID)
	}
	partition, err := partitionFor(feedTopic, ids)
	if err != nil {
		return 0, 0, err
	}

	leader, err := k.dialer.DialLeader(ctx, "tcp", k.brokers[0], k.topic, partition)
	if err != nil {
		return 0, 0, fmt.Errorf("kafka subscribe: dial leader of partition %d: %w", partition, err)
	}
	defer leader.Close()
	offset, err := leader.ReadLastOffset()
	if err != nil {
		return 0, 0, fmt.Errorf("kafka subscribe: read last offset: %w", err)
	}
	return partition, offset, nil
}

// partitionFor mirrors the publisher's kafka.Hash balancer, which sees the partition
// IDs in ascending order.
func partitionFor(key string, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("kafka subscribe: topic has no partitions")
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	return (&kafka.Hash{}).Balance(kafka.Message{Key: []byte(key)}, sorted...), nil
}

// messageReader is the part of *kafka.Reader a stream uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type kafkaStream struct {
	reader messageReader
	key    string
	closed atomic.Bool
}

// Next skips messages for other feed topics that share the partition.
func (s *kafkaStream) Next(ctx context.Context) ([]byte, error) {
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if s.closed.Load() {
				return nil, ErrStreamClosed
			}
			return nil, err
		}
		if string(m.Key) != s.key {
			continue
		}
		return m.Value, nil
	}
}

func (s *kafkaStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.reader.Close()
}

// KafkaPublisher writes serialized findings keyed by feed topic, so one user's
// findings land on one partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, feedTopic string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(feedTopic),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", feedTopic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
