package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"siapxml/internal/domain"
)

var errNoResultLine = errors.New("worker printed no result line")

// ParseResult decodes the last non-empty line of a worker's stdout.
// Earlier lines are progress noise and are ignored.
func ParseResult(stdout []byte) (*domain.WorkerResult, error) {
	line := lastLine(stdout)
	if len(line) == 0 {
		return nil, errNoResultLine
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("result line is not a JSON object: %w", err)
	}
	if _, ok := probe["success"]; !ok {
		return nil, fmt.Errorf("result line lacks the success flag")
	}

	var res domain.WorkerResult
	if err := json.Unmarshal(line, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

func lastLine(out []byte) []byte {
	lines := bytes.Split(out, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if l := bytes.TrimSpace(lines[i]); len(l) > 0 {
			return l
		}
	}
	return nil
}

// WriteResult emits res as a single JSON line. Workers call it exactly
// once, as the last thing they print.
func WriteResult(w io.Writer, res *domain.WorkerResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		data, _ = json.Marshal(&domain.WorkerResult{Success: false, Error: "encode result: " + err.Error()})
	}
	data = append(data, '\n')
	_, werr := w.Write(data)
	if werr != nil {
		return werr
	}
	return err
}
