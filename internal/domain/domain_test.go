package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRoom(t *testing.T) {
	valid := []string{UserRoom("1"), ProfileRoom("alice"), ChatRoom("7"), PostRoom("99")}
	for _, room := range valid {
		assert.NoError(t, ValidateRoom(room), room)
	}

	invalid := []string{"", "user_", "lobby", "chat_7:x", "profile_a b"}
	for _, room := range invalid {
		assert.ErrorIs(t, ValidateRoom(room), ErrInvalidRoom, room)
	}
}

func TestValidateJoinable_RejectsUserRooms(t *testing.T) {
	assert.ErrorIs(t, ValidateJoinable(UserRoom("1")), ErrRoomNotJoinable)
	assert.NoError(t, ValidateJoinable(ChatRoom("1")))
}

func TestNotifyRequest_Target(t *testing.T) {
	req := require.New(t)

	room, err := (&NotifyRequest{UserID: "42", Event: EventNewNotification}).Target()
	req.NoError(err)
	req.Equal("user_42", room)

	room, err = (&NotifyRequest{Room: "chat_7", Event: EventNewMessage}).Target()
	req.NoError(err)
	req.Equal("chat_7", room)

	_, err = (&NotifyRequest{Room: "chat_7", UserID: "42"}).Target()
	req.ErrorIs(err, ErrInvalidTarget)

	_, err = (&NotifyRequest{}).Target()
	req.ErrorIs(err, ErrInvalidTarget)
}

func TestNotifyRequest_Validate_UnknownEvent(t *testing.T) {
	err := (&NotifyRequest{UserID: "42", Event: "pokeUser"}).Validate()
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestNotifyRequest_Validate_GatewayEventsNotPushable(t *testing.T) {
	for _, ev := range []string{EventUserStatus, EventRequestUserStatus} {
		err := (&NotifyRequest{Room: ProfileRoom("alice"), Event: ev}).Validate()
		assert.ErrorIs(t, err, ErrUnknownEvent, ev)
		assert.True(t, IsKnownEvent(ev), ev)
	}
	assert.NoError(t, (&NotifyRequest{Room: ProfileRoom("alice"), Event: EventNewPost}).Validate())
}

func TestNewUserStatusPayload(t *testing.T) {
	seen := time.Unix(1700000000, 0)

	p := NewUserStatusPayload(StatusChange{UserID: "1", Status: StatusOffline, LastSeen: seen})
	assert.Equal(t, int64(1700000000), p.LastSeen)

	p = NewUserStatusPayload(StatusChange{UserID: "1", Status: StatusOnline})
	assert.Zero(t, p.LastSeen)
}
