package protocol

import "fmt"

// Action is a topic-scoped message action. The high bit marks an
// acknowledgement of the base action; it is split off into Message.IsAck
// by the codec and never appears in Message.Action.
type Action uint8

// AckFlag is OR-ed into the action byte of an acknowledgement.
const AckFlag Action = 0x80

const (
	errorActionMin Action = 0x50
	errorActionMax Action = 0x7F
)

// CONNECTION actions.
const (
	ConnectionPing                  Action = 0x01
	ConnectionPong                  Action = 0x02
	ConnectionChallenge             Action = 0x03
	ConnectionChallengeResponse     Action = 0x04
	ConnectionAccept                Action = 0x05
	ConnectionReject                Action = 0x06
	ConnectionRedirect              Action = 0x07
	ConnectionClosing               Action = 0x08
	ConnectionClosed                Action = 0x09
	ConnectionError                 Action = 0x50
	ConnectionAuthenticationTimeout Action = 0x51
	ConnectionInvalidMessage        Action = 0x52
)

// AUTH actions.
const (
	AuthRequest            Action = 0x01
	AuthSuccessful         Action = 0x02
	AuthUnsuccessful       Action = 0x03
	AuthTooManyAttempts    Action = 0x50
	AuthInvalidMessage     Action = 0x51
	AuthInvalidMessageData Action = 0x52
)

// EVENT actions.
const (
	EventEmit                          Action = 0x01
	EventSubscribe                     Action = 0x02
	EventUnsubscribe                   Action = 0x03
	EventListen                        Action = 0x04
	EventUnlisten                      Action = 0x05
	EventSubscriptionForPatternFound   Action = 0x06
	EventSubscriptionForPatternRemoved Action = 0x07
	EventListenAccept                  Action = 0x08
	EventListenReject                  Action = 0x09
	EventMessagePermissionError        Action = 0x50
	EventMessageDenied                 Action = 0x51
	EventInvalidMessageData            Action = 0x52
	EventMultipleSubscriptions         Action = 0x53
	EventNotSubscribed                 Action = 0x54
)

// RECORD actions. Only the table entries are needed by the core; record
// semantics live outside this module.
const (
	RecordSubscribeCreateAndRead Action = 0x01
	RecordReadResponse           Action = 0x02
	RecordUpdate                 Action = 0x03
	RecordPatch                  Action = 0x04
	RecordErase                  Action = 0x05
	RecordDelete                 Action = 0x06
	RecordDeleted                Action = 0x07
	RecordUnsubscribe            Action = 0x08
	RecordHas                    Action = 0x09
	RecordHasResponse            Action = 0x0A
	RecordHead                   Action = 0x0B
	RecordHeadResponse           Action = 0x0C
	RecordWriteAcknowledgement   Action = 0x0D
	RecordNotFound               Action = 0x50
	RecordVersionExists          Action = 0x51
	RecordMessageDenied          Action = 0x52
	RecordInvalidMessageData     Action = 0x53
)

// RPC actions.
const (
	RPCRequest                Action = 0x01
	RPCAccept                 Action = 0x02
	RPCResponse               Action = 0x03
	RPCReject                 Action = 0x04
	RPCRequestError           Action = 0x05
	RPCProvide                Action = 0x06
	RPCUnprovide              Action = 0x07
	RPCNoProvider             Action = 0x50
	RPCAcceptTimeout          Action = 0x51
	RPCResponseTimeout        Action = 0x52
	RPCMessagePermissionError Action = 0x53
	RPCMessageDenied          Action = 0x54
	RPCInvalidCorrelationID   Action = 0x55
	RPCMultipleProviders      Action = 0x56
	RPCNotProvided            Action = 0x57
	RPCMultipleResponse       Action = 0x58
	RPCMultipleAccept         Action = 0x59
	RPCInvalidMessageData     Action = 0x5A
)

// PRESENCE actions.
const (
	PresenceSubscribe        Action = 0x01
	PresenceUnsubscribe      Action = 0x02
	PresenceSubscribeAll     Action = 0x03
	PresenceUnsubscribeAll   Action = 0x04
	PresenceQuery            Action = 0x05
	PresenceQueryResponse    Action = 0x06
	PresenceQueryAll         Action = 0x07
	PresenceQueryAllResponse Action = 0x08
	PresenceJoin             Action = 0x09
	PresenceLeave            Action = 0x0A
	PresenceJoinAll          Action = 0x0B
	PresenceLeaveAll         Action = 0x0C
	PresenceMessageDenied    Action = 0x50
	PresenceInvalidUsers     Action = 0x51
)

// PARSER actions. The server only ever sends error-class parser messages.
const (
	ParserUnknownTopic               Action = 0x50
	ParserUnknownAction              Action = 0x51
	ParserInvalidMessage             Action = 0x52
	ParserMessageParseError          Action = 0x53
	ParserMaximumMessageSizeExceeded Action = 0x54
	ParserInvalidMetaData            Action = 0x55
)

type actionSpec struct {
	name          string
	correlationID bool
	ackable       bool
}

var actionTable = map[Topic]map[Action]actionSpec{
	TopicConnection: {
		ConnectionPing:                  {name: "PING"},
		ConnectionPong:                  {name: "PONG"},
		ConnectionChallenge:             {name: "CHALLENGE"},
		ConnectionChallengeResponse:     {name: "CHALLENGE_RESPONSE"},
		ConnectionAccept:                {name: "ACCEPT"},
		ConnectionReject:                {name: "REJECT"},
		ConnectionRedirect:              {name: "REDIRECT"},
		ConnectionClosing:               {name: "CLOSING"},
		ConnectionClosed:                {name: "CLOSED"},
		ConnectionError:                 {name: "ERROR"},
		ConnectionAuthenticationTimeout: {name: "AUTHENTICATION_TIMEOUT"},
		ConnectionInvalidMessage:        {name: "INVALID_MESSAGE"},
	},
	TopicAuth: {
		AuthRequest:            {name: "REQUEST"},
		AuthSuccessful:         {name: "AUTH_SUCCESSFUL"},
		AuthUnsuccessful:       {name: "AUTH_UNSUCCESSFUL"},
		AuthTooManyAttempts:    {name: "TOO_MANY_AUTH_ATTEMPTS"},
		AuthInvalidMessage:     {name: "INVALID_MESSAGE"},
		AuthInvalidMessageData: {name: "INVALID_MESSAGE_DATA"},
	},
	TopicEvent: {
		EventEmit:                          {name: "EMIT"},
		EventSubscribe:                     {name: "SUBSCRIBE", ackable: true},
		EventUnsubscribe:                   {name: "UNSUBSCRIBE", ackable: true},
		EventListen:                        {name: "LISTEN", ackable: true},
		EventUnlisten:                      {name: "UNLISTEN", ackable: true},
		EventSubscriptionForPatternFound:   {name: "SUBSCRIPTION_FOR_PATTERN_FOUND"},
		EventSubscriptionForPatternRemoved: {name: "SUBSCRIPTION_FOR_PATTERN_REMOVED"},
		EventListenAccept:                  {name: "LISTEN_ACCEPT"},
		EventListenReject:                  {name: "LISTEN_REJECT"},
		EventMessagePermissionError:        {name: "MESSAGE_PERMISSION_ERROR"},
		EventMessageDenied:                 {name: "MESSAGE_DENIED"},
		EventInvalidMessageData:            {name: "INVALID_MESSAGE_DATA"},
		EventMultipleSubscriptions:         {name: "MULTIPLE_SUBSCRIPTIONS"},
		EventNotSubscribed:                 {name: "NOT_SUBSCRIBED"},
	},
	TopicRecord: {
		RecordSubscribeCreateAndRead: {name: "SUBSCRIBECREATEANDREAD"},
		RecordReadResponse:           {name: "READ_RESPONSE"},
		RecordUpdate:                 {name: "UPDATE"},
		RecordPatch:                  {name: "PATCH"},
		RecordErase:                  {name: "ERASE"},
		RecordDelete:                 {name: "DELETE", ackable: true},
		RecordDeleted:                {name: "DELETED"},
		RecordUnsubscribe:            {name: "UNSUBSCRIBE", ackable: true},
		RecordHas:                    {name: "HAS", correlationID: true},
		RecordHasResponse:            {name: "HAS_RESPONSE", correlationID: true},
		RecordHead:                   {name: "HEAD", correlationID: true},
		RecordHeadResponse:           {name: "HEAD_RESPONSE", correlationID: true},
		RecordWriteAcknowledgement:   {name: "WRITE_ACKNOWLEDGEMENT"},
		RecordNotFound:               {name: "RECORD_NOT_FOUND"},
		RecordVersionExists:          {name: "VERSION_EXISTS"},
		RecordMessageDenied:          {name: "MESSAGE_DENIED"},
		RecordInvalidMessageData:     {name: "INVALID_MESSAGE_DATA"},
	},
	TopicRPC: {
		RPCRequest:                {name: "REQUEST", correlationID: true},
		RPCAccept:                 {name: "ACCEPT", correlationID: true},
		RPCResponse:               {name: "RESPONSE", correlationID: true},
		RPCReject:                 {name: "REJECT", correlationID: true},
		RPCRequestError:           {name: "REQUEST_ERROR", correlationID: true},
		RPCProvide:                {name: "PROVIDE", ackable: true},
		RPCUnprovide:              {name: "UNPROVIDE", ackable: true},
		RPCNoProvider:             {name: "NO_RPC_PROVIDER"},
		RPCAcceptTimeout:          {name: "ACCEPT_TIMEOUT"},
		RPCResponseTimeout:        {name: "RESPONSE_TIMEOUT"},
		RPCMessagePermissionError: {name: "MESSAGE_PERMISSION_ERROR"},
		RPCMessageDenied:          {name: "MESSAGE_DENIED"},
		RPCInvalidCorrelationID:   {name: "INVALID_RPC_CORRELATION_ID"},
		RPCMultipleProviders:      {name: "MULTIPLE_PROVIDERS"},
		RPCNotProvided:            {name: "NOT_PROVIDED"},
		RPCMultipleResponse:       {name: "MULTIPLE_RESPONSE"},
		RPCMultipleAccept:         {name: "MULTIPLE_ACCEPT"},
		RPCInvalidMessageData:     {name: "INVALID_MESSAGE_DATA"},
	},
	TopicPresence: {
		PresenceSubscribe:        {name: "SUBSCRIBE", correlationID: true, ackable: true},
		PresenceUnsubscribe:      {name: "UNSUBSCRIBE", correlationID: true, ackable: true},
		PresenceSubscribeAll:     {name: "SUBSCRIBE_ALL", ackable: true},
		PresenceUnsubscribeAll:   {name: "UNSUBSCRIBE_ALL", ackable: true},
		PresenceQuery:            {name: "QUERY", correlationID: true},
		PresenceQueryResponse:    {name: "QUERY_RESPONSE", correlationID: true},
		PresenceQueryAll:         {name: "QUERY_ALL"},
		PresenceQueryAllResponse: {name: "QUERY_ALL_RESPONSE"},
		PresenceJoin:             {name: "PRESENCE_JOIN"},
		PresenceLeave:            {name: "PRESENCE_LEAVE"},
		PresenceJoinAll:          {name: "PRESENCE_JOIN_ALL"},
		PresenceLeaveAll:         {name: "PRESENCE_LEAVE_ALL"},
		PresenceMessageDenied:    {name: "MESSAGE_DENIED"},
		PresenceInvalidUsers:     {name: "INVALID_PRESENCE_USERS"},
	},
	TopicParser: {
		ParserUnknownTopic:               {name: "UNKNOWN_TOPIC"},
		ParserUnknownAction:              {name: "UNKNOWN_ACTION"},
		ParserInvalidMessage:             {name: "INVALID_MESSAGE"},
		ParserMessageParseError:          {name: "MESSAGE_PARSE_ERROR"},
		ParserMaximumMessageSizeExceeded: {name: "MAXIMUM_MESSAGE_SIZE_EXCEEDED"},
		ParserInvalidMetaData:            {name: "INVALID_META_DATA"},
	},
}

func lookupAction(topic Topic, action Action) (actionSpec, bool) {
	actions, ok := actionTable[topic]
	if !ok {
		return actionSpec{}, false
	}
	spec, ok := actions[action]
	return spec, ok
}

// BaseAction strips the acknowledgement bit.
func BaseAction(a Action) Action {
	return a &^ AckFlag
}

// IsErrorAction reports whether a falls in the reserved error range.
func IsErrorAction(a Action) bool {
	a = BaseAction(a)
	return a >= errorActionMin && a <= errorActionMax
}

// IsKnownAction reports whether action is defined for topic.
func IsKnownAction(topic Topic, action Action) bool {
	_, ok := lookupAction(topic, BaseAction(action))
	return ok
}

// IsAckable reports whether the server acknowledges action on topic.
func IsAckable(topic Topic, action Action) bool {
	spec, ok := lookupAction(topic, BaseAction(action))
	return ok && spec.ackable
}

// RequiresCorrelationID reports whether messages with this topic and action
// must carry a correlation id.
func RequiresCorrelationID(topic Topic, action Action) bool {
	spec, ok := lookupAction(topic, BaseAction(action))
	return ok && spec.correlationID
}

// ActionName returns the protocol name of an action within its topic.
func ActionName(topic Topic, action Action) string {
	spec, ok := lookupAction(topic, BaseAction(action))
	if !ok {
		return fmt.Sprintf("ACTION(0x%02x)", uint8(action))
	}
	if action&AckFlag != 0 {
		return spec.name + "_ACK"
	}
	return spec.name
}
