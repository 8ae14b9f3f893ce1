package domain

// Event names pushed to clients. The vocabulary is fixed; anything else is
// rejected before it reaches the notifier. userStatus and requestUserStatus
// are produced by the gateway itself and cannot be pushed through notify.
const (
	EventNewNotification   = "newNotification"
	EventNewPost           = "newPost"
	EventPostUpdate        = "postUpdate"
	EventPostDeleted       = "postDeleted"
	EventNewMessage        = "newMessage"
	EventMessageRead       = "messageRead"
	EventUserStatus        = "userStatus"
	EventRequestUserStatus = "requestUserStatus"
)

var knownEvents = map[string]struct{}{
	EventNewNotification:   {},
	EventNewPost:           {},
	EventPostUpdate:        {},
	EventPostDeleted:       {},
	EventNewMessage:        {},
	EventMessageRead:       {},
	EventUserStatus:        {},
	EventRequestUserStatus: {},
}

// pushEvents are the events the web application may push.
var pushEvents = map[string]struct{}{
	EventNewNotification: {},
	EventNewPost:         {},
	EventPostUpdate:      {},
	EventPostDeleted:     {},
	EventNewMessage:      {},
	EventMessageRead:     {},
}

// IsPushEvent reports whether name may be sent through a NotifyRequest.
func IsPushEvent(name string) bool {
	_, ok := pushEvents[name]
	return ok
}

// IsKnownEvent reports whether name is part of the event vocabulary.
func IsKnownEvent(name string) bool {
	_, ok := knownEvents[name]
	return ok
}
