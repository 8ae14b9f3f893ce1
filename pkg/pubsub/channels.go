package pubsub

import (
	"fmt"
	"strings"
)

// Fan-out channels are named realtime:room:{room}:fanout. The Kafka driver
// carries all of them on one topic keyed by room, so a room's events stay
// ordered within its partition.
const (
	ChannelRoomFanout = "realtime:room:%s:fanout"
	PatternRoomFanout = "realtime:room:*:fanout"
	TopicRoomFanout   = "realtime-fanout"
)

func RoomFanoutChannel(room string) string {
	return fmt.Sprintf(ChannelRoomFanout, room)
}

// RoomFromChannel extracts the room from a fan-out channel name.
func RoomFromChannel(channel string) (string, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "realtime" || parts[1] != "room" || parts[3] != "fanout" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// topicForChannel maps a fan-out channel onto the Kafka topic and message key.
func topicForChannel(channel string) (topic, key string, err error) {
	room, ok := RoomFromChannel(channel)
	if !ok {
		return "", "", fmt.Errorf("not a fan-out channel: %s", channel)
	}
	return TopicRoomFanout, room, nil
}

func topicForPattern(pattern string) (string, error) {
	if pattern != PatternRoomFanout {
		return "", fmt.Errorf("unsupported pattern: %s", pattern)
	}
	return TopicRoomFanout, nil
}
