package eventbus

import (
	"context"

	"tokenpulse/internal/domain/models"
	"tokenpulse/pkg/logger"
)

// LogPublisher adapts a Bus into logger.Publisher, so every line the
// logger collects is also streamed out as an EventScrapeLog to connected
// duplex-channel clients.
type LogPublisher struct {
	bus *Bus
}

func NewLogPublisher(bus *Bus) *LogPublisher {
	return &LogPublisher{bus: bus}
}

// PublishMessage publishes one log line under topic (the log call's stage
// field, or "app" when the log line carries none) as a scrapeLog event.
func (p *LogPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	if topic == "" {
		topic = "app"
	}
	line, ok := payload.(logger.StreamedLogLine)
	if !ok {
		return nil
	}
	p.bus.Publish(models.NewScrapeLog(topic, line.Message))
	return nil
}
