package deepstream

// Socket is a connected (or connecting) message-oriented transport.
type Socket interface {
	// Send queues one frame for writing. It must not block on the network.
	Send(data []byte) error
	// Close starts closing the socket. OnClose still fires afterwards.
	Close() error
}

// SocketEvents are the callbacks a Dialer reports through. They may be
// called from any goroutine. OnClose is called exactly once per socket,
// after OnError when the socket fails, including when the dial itself
// fails.
type SocketEvents struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Dialer starts connecting to url and returns immediately.
type Dialer func(url string, events SocketEvents) Socket
