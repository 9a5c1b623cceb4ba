package logger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Publisher is anything the stage-log streamer can hand a single log line
// to. In this domain it is the EventBus, receiving one scrapeLog event per
// call; the topic argument is the stage tag.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// StreamConfig configures a LogCollector. PublishTimeout bounds each
// individual publish call so a stalled subscriber never blocks the
// logger.
type StreamConfig struct {
	Publisher      Publisher
	PublishTimeout time.Duration
}

// StreamedLogLine is what the streamer hands the Publisher for one log
// call: a single line, not a batch, so stage output reaches subscribers
// with no more than one line of delay.
type StreamedLogLine struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Timestamp time.Time              `json:"timestamp"`
}

// LogCollector streams every collected line to its Publisher as it
// happens, never aggregating or delaying: the EventBus's scrapeLog event
// must reflect generation order with no buffering window.
type LogCollector struct {
	config *StreamConfig
	wg     sync.WaitGroup
}

func NewLogCollector(config *StreamConfig) *LogCollector {
	return &LogCollector{config: config}
}

// AddLog publishes one line immediately in a background goroutine so the
// calling Error/Warn call never blocks on the subscriber.
func (d *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	line := StreamedLogLine{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Timestamp: time.Now(),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timeout := d.config.PublishTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		stage, _ := fields["stage"].(string)
		if err := d.config.Publisher.PublishMessage(ctx, stage, line); err != nil {
			fmt.Printf("failed to stream log line: %v\n", err)
		}
	}()
}

// Close waits for any in-flight publish calls to finish.
func (d *LogCollector) Close() {
	d.wg.Wait()
}
