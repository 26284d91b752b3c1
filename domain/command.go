package domain

// Command is the closed set of inbound events a session's transport channel
// can deliver. The relay dispatches on the concrete type in one exhaustive
// switch, so adding a kind is a single-point, compile-time-checked change.
type Command interface {
	isCommand()
}

// Connect greets a freshly registered session with its tentative identity.
type Connect struct{}

type SetUsername struct {
	Name string
}

type SendMessage struct {
	Content string
	Kind    MessageKind
	RoomID  string
}

type Typing struct {
	IsTyping bool
}

type JoinRoom struct {
	RoomID string
}

type LeaveRoom struct {
	RoomID string
}

type RequestHistory struct {
	RoomID string
}

type Disconnect struct{}

func (Connect) isCommand()        {}
func (SetUsername) isCommand()    {}
func (SendMessage) isCommand()    {}
func (Typing) isCommand()         {}
func (JoinRoom) isCommand()       {}
func (LeaveRoom) isCommand()      {}
func (RequestHistory) isCommand() {}
func (Disconnect) isCommand()     {}
