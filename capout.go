package midirpc

import (
	"bytes"
	"io"
	"os"
)

// captureStdout swaps os.Stdout for a pipe and returns a restore function
// that puts the real stdout back and yields everything written in between.
// The caller must run restore on every exit path, including panics in the
// executed callable. Swapping the process-wide stdout is only safe because
// the server dispatches one call at a time.
func captureStdout() (restore func() string, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	real := os.Stdout
	os.Stdout = w

	var buf bytes.Buffer
	drained := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(drained)
	}()

	return func() string {
		os.Stdout = real
		_ = w.Close()
		<-drained
		_ = r.Close()
		return buf.String()
	}, nil
}
