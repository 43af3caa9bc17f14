package deepstream

// Event names a condition reported through the logger and monitor. Values
// are the protocol's own event names so log output can be grepped against
// server logs.
type Event string

const (
	EventConnectionError              Event = "CONNECTION_ERROR"
	EventUnsolicitedMessage           Event = "UNSOLICITED_MESSAGE"
	EventMessageParseError            Event = "MESSAGE_PARSE_ERROR"
	EventInvalidMessage               Event = "INVALID_MESSAGE"
	EventUnknownTopic                 Event = "UNKNOWN_TOPIC"
	EventUnknownAction                Event = "UNKNOWN_ACTION"
	EventMaximumMessageSizeExceeded   Event = "MAXIMUM_MESSAGE_SIZE_EXCEEDED"
	EventIsClosed                     Event = "IS_CLOSED"
	EventAckTimeout                   Event = "ACK_TIMEOUT"
	EventResponseTimeout              Event = "RESPONSE_TIMEOUT"
	EventAcceptTimeout                Event = "ACCEPT_TIMEOUT"
	EventHeartbeatTimeout             Event = "HEARTBEAT_TIMEOUT"
	EventMaxReconnectionAttempts      Event = "MAX_RECONNECTION_ATTEMPTS_REACHED"
	EventChallengeDenied              Event = "CHALLENGE_DENIED"
	EventTooManyAuthAttempts          Event = "TOO_MANY_AUTH_ATTEMPTS"
	EventAuthenticationTimeout        Event = "AUTHENTICATION_TIMEOUT"
	EventReauthenticationFailure      Event = "REAUTHENTICATION_FAILURE"
	EventInvalidAuthenticationDetails Event = "INVALID_AUTHENTICATION_DETAILS"
	EventAuthenticationSuperseded     Event = "AUTHENTICATION_SUPERSEDED"
	EventClientOffline                Event = "CLIENT_OFFLINE"
	EventNotSubscribed                Event = "NOT_SUBSCRIBED"
	EventNotProviding                 Event = "NOT_PROVIDING"
	EventMessageDenied                Event = "MESSAGE_DENIED"
	EventRPCError                     Event = "RPC_ERROR"
)
