package providers

import (
	"bufio"
	"io"
	"strings"
)

const maxSSELine = 1024 * 1024

// Event is one server-sent event
type Event struct {
	Name string
	Data string
}

// ReadEvents parses a text/event-stream body and calls fn for every event.
// Reading stops when fn returns false, the body ends, or a read fails.
func ReadEvents(r io.Reader, fn func(Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var (
		name string
		data []string
	)

	flush := func() bool {
		if len(data) == 0 {
			name = ""
			return true
		}
		ev := Event{Name: name, Data: strings.Join(data, "\n")}
		name, data = "", data[:0]
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
