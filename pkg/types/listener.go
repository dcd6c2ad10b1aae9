package types

// ConnectionListener observes a transport session. Callbacks run on the
// session's event goroutine, one at a time, in channel order; they may
// call back into the session.
type ConnectionListener interface {
	// ConnectionEstablished fires once per successful handshake.
	ConnectionEstablished()
	// ConnectionClosed fires when the channel closes normally.
	ConnectionClosed()
	// ConnectionFailed fires on a transport failure. A reconnect is
	// scheduled unless the session was explicitly disconnected.
	ConnectionFailed(err error)
	// RequestFailed fires when a request operation fails.
	RequestFailed(err error)
	// MessageReceived delivers every non-login frame verbatim.
	MessageReceived(msg Message)
	// MessageRejected fires when a frame cannot be parsed.
	MessageRejected(err error)
}

// SchemaListener observes a schema registry.
type SchemaListener interface {
	TypeCreated(t *Type)
	ItemCreated(item *Item)
	ItemDeleted(item *Item)
	ItemValueChanged(item *Item, value Value)
	// MessageRejected fires when a message cannot be applied.
	MessageRejected(err error)
}

// ConnectionFuncs adapts functions to ConnectionListener. Nil fields are
// no-ops.
type ConnectionFuncs struct {
	OnEstablished func()
	OnClosed      func()
	OnFailed      func(err error)
	OnRequestFail func(err error)
	OnMessage     func(msg Message)
	OnRejected    func(err error)
}

func (f ConnectionFuncs) ConnectionEstablished() {
	if f.OnEstablished != nil {
		f.OnEstablished()
	}
}

func (f ConnectionFuncs) ConnectionClosed() {
	if f.OnClosed != nil {
		f.OnClosed()
	}
}

func (f ConnectionFuncs) ConnectionFailed(err error) {
	if f.OnFailed != nil {
		f.OnFailed(err)
	}
}

func (f ConnectionFuncs) RequestFailed(err error) {
	if f.OnRequestFail != nil {
		f.OnRequestFail(err)
	}
}

func (f ConnectionFuncs) MessageReceived(msg Message) {
	if f.OnMessage != nil {
		f.OnMessage(msg)
	}
}

func (f ConnectionFuncs) MessageRejected(err error) {
	if f.OnRejected != nil {
		f.OnRejected(err)
	}
}

// SchemaFuncs adapts functions to SchemaListener. Nil fields are no-ops.
type SchemaFuncs struct {
	OnTypeCreated  func(t *Type)
	OnItemCreated  func(item *Item)
	OnItemDeleted  func(item *Item)
	OnValueChanged func(item *Item, value Value)
	OnRejected     func(err error)
}

func (f SchemaFuncs) TypeCreated(t *Type) {
	if f.OnTypeCreated != nil {
		f.OnTypeCreated(t)
	}
}

func (f SchemaFuncs) ItemCreated(item *Item) {
	if f.OnItemCreated != nil {
		f.OnItemCreated(item)
	}
}

func (f SchemaFuncs) ItemDeleted(item *Item) {
	if f.OnItemDeleted != nil {
		f.OnItemDeleted(item)
	}
}

func (f SchemaFuncs) ItemValueChanged(item *Item, value Value) {
	if f.OnValueChanged != nil {
		f.OnValueChanged(item, value)
	}
}

func (f SchemaFuncs) MessageRejected(err error) {
	if f.OnRejected != nil {
		f.OnRejected(err)
	}
}
