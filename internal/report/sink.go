package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/kafka-go"
)

// Sink receives the run summary once the run has ended.
type Sink interface {
	Emit(ctx context.Context, s Summary) error
}

// WriterSink writes the summary as indented JSON.
type WriterSink struct {
	W io.Writer
}

func (w WriterSink) Emit(_ context.Context, s Summary) error {
	enc := json.NewEncoder(w.W)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// FileSink writes the summary to Path, replacing it atomically.
type FileSink struct {
	Path string
}

func (f FileSink) Emit(ctx context.Context, s Summary) error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	tmp := f.Path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if err := (WriterSink{W: fh}).Emit(ctx, s); err != nil {
		fh.Close()
		os.Remove(tmp)
		return err
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, f.Path)
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes the summary keyed by RunID.
type KafkaSink struct {
	writer kafkaMessageWriter
}

// NewKafkaSink returns a sink producing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}}
}

func (k *KafkaSink) Emit(ctx context.Context, s Summary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.RunID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(s.Status)},
		},
	})
}

func (k *KafkaSink) Close() error { return k.writer.Close() }

// MultiSink fans out to every sink and joins their errors; one failing
// sink does not stop the others.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, s Summary) error {
	var errs []error
	for _, sk := range m {
		if err := sk.Emit(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
