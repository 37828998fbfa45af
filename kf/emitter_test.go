package kf

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type producedRecord struct {
	topic   string
	value   []byte
	headers []Header
}

// fakeProducer 记录 Produce/Flush 调用，failAt 指定在第几次 Flush 失败
type fakeProducer struct {
	pending  []producedRecord
	flushed  []producedRecord
	produces int
	flushes  int
	failAt   int
	failErr  error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{failAt: -1}
}

func (p *fakeProducer) Produce(_ context.Context, topic string, value []byte, headers ...Header) error {
	p.produces++
	p.pending = append(p.pending, producedRecord{topic: topic, value: value, headers: headers})
	return nil
}

func (p *fakeProducer) Flush(context.Context) error {
	defer func() { p.flushes++ }()
	if p.flushes == p.failAt {
		p.pending = nil
		return p.failErr
	}
	p.flushed = append(p.flushed, p.pending...)
	p.pending = nil
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestNewMessage(t *testing.T) {
	for i := 0; i < 10; i++ {
		m := NewMessage(i)
		assert.Equal(t, i, m.ID)
		assert.Equal(t, "Message "+strconv.Itoa(i), m.Name)
	}

	data, err := json.Marshal(NewMessage(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 3, "name": "Message 3"}`, string(data))
}

func TestEmit_ProduceThenFlush(t *testing.T) {
	p := newFakeProducer()

	err := Emit(context.Background(), p, "my-topic", []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 1, p.produces)
	assert.Equal(t, 1, p.flushes)
	require.Len(t, p.flushed, 1)
	assert.Equal(t, "my-topic", p.flushed[0].topic)
	assert.Equal(t, []byte("hello"), p.flushed[0].value)
}

func TestEmit_PropagatesFlushError(t *testing.T) {
	p := newFakeProducer()
	p.failAt = 0
	p.failErr = ErrDeliveryFailed

	err := Emit(context.Background(), p, "my-topic", []byte("hello"))
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestEmitter_Run(t *testing.T) {
	p := newFakeProducer()
	e := &Emitter{Producer: p, Topic: "my-topic", Count: 10, RunID: "run-1"}

	sent, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, sent)
	assert.Equal(t, 10, p.produces)
	assert.Equal(t, 10, p.flushes)

	require.Len(t, p.flushed, 10)
	for i, rec := range p.flushed {
		var m Message
		require.NoError(t, json.Unmarshal(rec.value, &m))
		assert.Equal(t, i, m.ID)
		assert.Equal(t, NewMessage(i).Name, m.Name)
		assert.Equal(t, "my-topic", rec.topic)
		require.Len(t, rec.headers, 1)
		assert.Equal(t, RunIDHeader, rec.headers[0].Key)
		assert.Equal(t, "run-1", string(rec.headers[0].Value))
	}
}

func TestEmitter_RunStopsAtFirstFailure(t *testing.T) {
	p := newFakeProducer()
	p.failAt = 4
	p.failErr = ErrBrokerUnavailable
	e := &Emitter{Producer: p, Topic: "my-topic", Count: 10}

	sent, err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Equal(t, 4, sent)
	assert.Equal(t, 5, p.produces, "no message after the failing index is produced")

	for _, rec := range p.flushed {
		var m Message
		require.NoError(t, json.Unmarshal(rec.value, &m))
		assert.Less(t, m.ID, 4)
	}
}

func TestEmitter_RunEmptyTopic(t *testing.T) {
	p := newFakeProducer()
	e := &Emitter{Producer: p, Count: 10}

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrEmptyTopic)
	assert.Zero(t, p.produces)
}

func TestEmitter_RunWaitsBetweenSends(t *testing.T) {
	p := newFakeProducer()
	e := &Emitter{Producer: p, Topic: "my-topic", Count: 3, Interval: 20 * time.Millisecond}

	start := time.Now()
	sent, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestEmitter_RunCancelledDuringInterval(t *testing.T) {
	p := newFakeProducer()
	e := &Emitter{Producer: p, Topic: "my-topic", Count: 10, Interval: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sent, err := e.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, sent)
}
