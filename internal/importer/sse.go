package importer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxEventLine = 4 << 20

var errStop = errors.New("stop reading events")

type event struct {
	name string
	data string
}

// readEvents parses a text/event-stream body and calls handle once per
// dispatched event. Returning errStop from handle ends reading without an
// error. Data lines of one event are joined with "\n".
func readEvents(r io.Reader, handle func(event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxEventLine)

	var (
		current event
		data    []string
		pending bool
	)
	dispatch := func() error {
		if !pending {
			return nil
		}
		current.data = strings.Join(data, "\n")
		ev := current
		current, data, pending = event{}, nil, false
		return handle(ev)
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if err := dispatch(); err != nil {
				return stopped(err)
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			current.name = value
			pending = true
		case "data":
			data = append(data, value)
			pending = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read import stream: %w", err)
	}
	return stopped(dispatch())
}

func stopped(err error) error {
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}
