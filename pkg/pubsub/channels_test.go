package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomFanoutChannel_RoundTrip(t *testing.T) {
	ch := RoomFanoutChannel("chat_7")
	assert.Equal(t, "realtime:room:chat_7:fanout", ch)

	room, ok := RoomFromChannel(ch)
	assert.True(t, ok)
	assert.Equal(t, "chat_7", room)
}

func TestRoomFromChannel_Invalid(t *testing.T) {
	for _, ch := range []string{"", "realtime:room::fanout", "signal:room:1:to_media", "realtime:room:1"} {
		_, ok := RoomFromChannel(ch)
		assert.False(t, ok, ch)
	}
}

func TestTopicForChannel(t *testing.T) {
	topic, key, err := topicForChannel(RoomFanoutChannel("user_42"))
	require.NoError(t, err)
	assert.Equal(t, TopicRoomFanout, topic)
	assert.Equal(t, "user_42", key)

	_, _, err = topicForChannel("realtime:room:user_42")
	assert.Error(t, err)

	topic, err = topicForPattern(PatternRoomFanout)
	require.NoError(t, err)
	assert.Equal(t, TopicRoomFanout, topic)

	_, err = topicForPattern("realtime:*")
	assert.Error(t, err)
}

func TestNewPubSub_UnknownDriver(t *testing.T) {
	_, err := NewPubSub(Config{Driver: "nats"})
	assert.Error(t, err)
}

func TestNewKafkaPubSub_RequiresGroup(t *testing.T) {
	_, err := NewKafkaPubSub(KafkaConfig{Brokers: "localhost:9092"})
	assert.Error(t, err)
}
