package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
)

// Summary counts what a Stream call sent and what the server answered.
type Summary struct {
	Sent     int64 `json:"sent"`
	Acked    int64 `json:"acked"`
	Rejected int64 `json:"rejected"`
	Skipped  int64 `json:"skipped"`
}

// Stream sends every JSON line of r, ratePerSec lines per second (0 sends as
// fast as possible). A line with an "eventType" key is sent as an event,
// anything else as a raw sample. Unparseable lines are skipped.
func (c *Client) Stream(ctx context.Context, r io.Reader, ratePerSec float64) (Summary, error) {
	var sum Summary
	var tick <-chan time.Time
	if ratePerSec > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / ratePerSec))
		defer ticker.Stop()
		tick = ticker.C
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return sum, ctx.Err()
			}
		} else if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			c.logger.Warn("skipping line", "line", line, "err", err)
			sum.Skipped++
			continue
		}

		var err error
		if _, ok := raw["eventType"]; ok {
			var e model.SessionEvent
			if err := json.Unmarshal(data, &e); err != nil {
				c.logger.Warn("skipping event line", "line", line, "err", err)
				sum.Skipped++
				continue
			}
			_, err = c.SendEvent(e)
		} else {
			_, err = c.SendSample(raw)
		}
		if err != nil {
			return sum, err
		}
		sum.Sent++
	}
	if err := scanner.Err(); err != nil {
		return sum, errors.Wrap(err, "reading input")
	}
	return sum, nil
}

// WaitReplies blocks until every sent frame was answered or ctx is done.
func (c *Client) WaitReplies(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.Acked()+c.Rejected() >= c.Sent() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-c.readDone:
			if c.Acked()+c.Rejected() >= c.Sent() {
				return nil
			}
			return errors.New("connection closed before every frame was answered")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
