// Package message defines the call request/response model and its compact
// binary codec. Messages are encoded as a fixed header, a newline-delimited
// head section, and a value-coded (optionally compressed) body, then handed
// to the chunker to be fitted into SysEx-sized datagrams.
package message

// Version is the codec version written into every message header.
const Version byte = 1

// Status classifies the outcome carried by a Response.
type Status byte

const (
	// StatusOk means the call executed and Value holds its result.
	StatusOk Status = 0
	// StatusFault means the callable raised; Fault describes the failure.
	StatusFault Status = 1
	// StatusRejected means the target was not in the server's allow-list
	// and nothing was executed.
	StatusRejected Status = 2
)

// Request describes one remote call. MessageID is unique among the caller's
// in-flight calls only; a resolved or expired id may be reused later.
type Request struct {
	MessageID  uint32
	Compressor byte
	// CreatedAt is the call creation time in unix milliseconds.
	CreatedAt int64
	// Target is the fully qualified callable name, e.g. "mixer.setTrackVolume".
	Target string
	// Meta carries call metadata such as the propagated deadline.
	Meta   map[string]string
	Args   []any
	KwArgs map[string]any
}

// FaultDesc carries a remote execution fault back to the caller as data.
type FaultDesc struct {
	Kind    string
	Message string
	Trace   string
}

// Response is the single reply produced for every Request.
type Response struct {
	MessageID  uint32
	Compressor byte
	Status     Status
	// Stdout is everything the callable wrote to standard output.
	Stdout string
	// Value is set iff Status is StatusOk.
	Value any
	// Fault is set iff Status is StatusFault.
	Fault *FaultDesc
	// Rejection holds the refusal reason iff Status is StatusRejected.
	Rejection string
}
