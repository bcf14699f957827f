package events

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// DefaultSource is the CloudEvents source attribute of emitted events.
const DefaultSource = "/simple-knowledge"

const sendTimeout = 5 * time.Second

type cloudEventsSink struct {
	client cloudevents.Client
	target string
	source string
	now    func() time.Time
}

// NewCloudEventsSink posts every event in binary HTTP mode to target.
func NewCloudEventsSink(target, source string) (knowledge.EventSink, error) {
	if target == "" {
		return nil, fmt.Errorf("cloudevents target url is required")
	}
	if source == "" {
		source = DefaultSource
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return adapter{&cloudEventsSink{
		client: client,
		target: target,
		source: source,
		now:    time.Now,
	}}, nil
}

func (s *cloudEventsSink) publish(ctx context.Context, eventType string, p Payload) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetType(eventType)
	event.SetSource(s.source)
	event.SetSubject(p.Name)
	event.SetTime(s.now().UTC())
	if err := event.SetData(cloudevents.ApplicationJSON, p); err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	ctx = cloudevents.ContextWithTarget(ctx, s.target)

	if result := s.client.Send(ctx, event); !cloudevents.IsACK(result) {
		return fmt.Errorf("failed to deliver %s event for package %d: %w", eventType, p.ID, result)
	}
	return nil
}
