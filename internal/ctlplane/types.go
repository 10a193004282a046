package ctlplane

// Request is one dispatched control operation.
type Request struct {
	Op      Opcode
	Payload []byte
	Cred    Credentials
}

// Response carries the output payload of an operation, if any.
type Response struct {
	Payload []byte
}

// IoctlArgs is the wire form of a request. Credentials are never taken
// from the wire; the device fills them from the socket.
type IoctlArgs struct {
	Op      Opcode
	Payload []byte
}

// Reply is the wire form of every Control method result. A zero Errno
// means success.
type Reply struct {
	Payload []byte
	Errno   int
	Error   string
}

// Empty is used for methods with no arguments.
type Empty struct{}

func (r *Reply) setError(err error) {
	if err == nil {
		return
	}
	r.Errno = int(errnoOf(err))
	r.Error = err.Error()
}
