package domain

import (
	"fmt"
	"strings"
)

// Room prefixes. Every authenticated session is implicitly in its user room;
// the others are joined on demand by the client.
const (
	RoomPrefixUser    = "user_"
	RoomPrefixProfile = "profile_"
	RoomPrefixChat    = "chat_"
	RoomPrefixPost    = "post_"
)

// UserRoom returns the private notification room of a user.
func UserRoom(userID string) string { return RoomPrefixUser + userID }

// ProfileRoom returns the live-update room of a user's profile page. Status
// changes of the user are broadcast here.
func ProfileRoom(userID string) string { return RoomPrefixProfile + userID }

// ChatRoom returns the room of a chat or DM thread.
func ChatRoom(chatID string) string { return RoomPrefixChat + chatID }

// PostRoom returns the room of a single post's live updates.
func PostRoom(postID string) string { return RoomPrefixPost + postID }

// ValidateRoom checks that room is a well-formed room key.
func ValidateRoom(room string) error {
	for _, prefix := range []string{RoomPrefixUser, RoomPrefixProfile, RoomPrefixChat, RoomPrefixPost} {
		if strings.HasPrefix(room, prefix) {
			id := strings.TrimPrefix(room, prefix)
			if id == "" || strings.ContainsAny(id, ": \t\n") {
				return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
}

// ValidateJoinable checks that a client may join room explicitly. User rooms
// are joined implicitly on authentication and never on request.
func ValidateJoinable(room string) error {
	if err := ValidateRoom(room); err != nil {
		return err
	}
	if strings.HasPrefix(room, RoomPrefixUser) {
		return fmt.Errorf("%w: %q", ErrRoomNotJoinable, room)
	}
	return nil
}
