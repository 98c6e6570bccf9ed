package ws

const (
	MsgPing = "ping"
	MsgPong = "pong"
)

// MessagePing asks the server for a pong on the same connection.
type MessagePing struct{}

func (*MessagePing) GetType() string { return MsgPing }

func (*MessagePing) Process(ctx *MessageContext) error {
	return ctx.Hub.Send(ctx.Client, Frame{Type: MsgPong})
}

// MessagePong is accepted and ignored, so clients may answer server pings.
type MessagePong struct{}

func (*MessagePong) GetType() string { return MsgPong }

func (*MessagePong) Process(*MessageContext) error { return nil }
