package publish

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lejer/eon-client/pkg/values"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeBroker struct {
	connected    bool
	token        *fakeToken
	messages     []message
	disconnected bool
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.messages = append(b.messages, message{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	if b.token != nil {
		return b.token
	}
	return &fakeToken{}
}

func (b *fakeBroker) Disconnect(uint) { b.disconnected = true }

func newTestPublisher(b *fakeBroker, prefix string) (*MQTT, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newMQTT(b, Config{TopicPrefix: prefix, Retain: true}, zerolog.New(buf)), buf
}

func TestMQTT_Topic(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "eon", want: "eon/002100000001/values"},
		{prefix: "/home/eon/", want: "home/eon/002100000001/values"},
		{prefix: "", want: "eon/002100000001/values"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			m, _ := newTestPublisher(&fakeBroker{}, tt.prefix)
			assert.Equal(t, tt.want, m.Topic("002100000001"))
		})
	}
}

func TestMQTT_Publish(t *testing.T) {
	b := &fakeBroker{connected: true}
	m, _ := newTestPublisher(b, "eon")

	v := values.Values{AccountContract: "002100000001", UnpaidTotal: 120.5, HasUnpaid: true}
	require.NoError(t, m.Publish(v))

	require.Len(t, b.messages, 1)
	msg := b.messages[0]
	assert.Equal(t, "eon/002100000001/values", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var got values.Values
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, 120.5, got.UnpaidTotal)
	assert.True(t, got.HasUnpaid)

	_, ok := m.LastPublished("002100000001")
	assert.True(t, ok)
}

func TestMQTT_Publish_Disconnected(t *testing.T) {
	b := &fakeBroker{connected: false}
	m, _ := newTestPublisher(b, "eon")

	err := m.Publish(values.Values{AccountContract: "002100000001"})
	assert.Error(t, err)
	assert.Empty(t, b.messages)

	_, ok := m.LastPublished("002100000001")
	assert.False(t, ok)
}

func TestMQTT_Publish_TokenErrors(t *testing.T) {
	tests := []struct {
		name  string
		token *fakeToken
	}{
		{name: "broker error", token: &fakeToken{err: errors.New("not authorized")}},
		{name: "timeout", token: &fakeToken{timeout: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroker{connected: true, token: tt.token}
			m, _ := newTestPublisher(b, "eon")

			assert.Error(t, m.Publish(values.Values{AccountContract: "002100000001"}))
			_, ok := m.LastPublished("002100000001")
			assert.False(t, ok)
		})
	}
}

func TestMQTT_Close(t *testing.T) {
	b := &fakeBroker{connected: true}
	m, _ := newTestPublisher(b, "eon")

	m.Close()
	assert.True(t, b.disconnected)
}
