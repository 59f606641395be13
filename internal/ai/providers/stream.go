package providers

import (
	"errors"
	"io"
	"strings"
)

// errStreamDone signals a normal end-of-stream from inside an onData
// callback, e.g. OpenAI's [DONE] sentinel or Anthropic's message_stop.
var errStreamDone = errors.New("stream done")

// readSSE reads a text/event-stream body line by line and calls onData
// with the payload of each non-empty "data:" line. "event:" lines and
// blank keep-alives are skipped. Returns nil on EOF or errStreamDone.
func readSSE(r io.Reader, onData func(data string) error) error {
	buf := make([]byte, 4096)
	var pending string

	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending += string(buf[:n])
			lines := strings.Split(pending, "\n")
			pending = lines[len(lines)-1]

			for _, line := range lines[:len(lines)-1] {
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "" {
					continue
				}
				if err := onData(data); err != nil {
					if errors.Is(err, errStreamDone) {
						return nil
					}
					return err
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
