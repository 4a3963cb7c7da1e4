package procpool

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxFrameSize bounds one JSON line on the wire.
const maxFrameSize = 64 << 20

// request is one call sent to a child on stdin.
type request struct {
	ID      string              `json:"id"`
	Method  string              `json:"method"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// response is the child's answer on stdout.
type response struct {
	ID     string              `json:"id"`
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// RemoteError is a handler failure reported by a child process.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return "procpool: " + e.Method + ": " + e.Message
}
