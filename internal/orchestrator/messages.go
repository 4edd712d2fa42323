package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// maxAuditEntries bounds the interaction audit log; older entries are dropped.
const maxAuditEntries = 1000

// ManageAgentInteractions validates an inter-worker message, records it in
// the audit log, and forwards it to the target worker when its executor
// implements MessageReceiver. msg may be a models.AgentMessage, a
// *models.AgentMessage, or a map with string "from", "to" and "type" keys
// and an optional "payload" map.
//
// Every failure is logged and emitted as agentError before being returned.
// Messaging never affects a running orchestration.
func (c *Coordinator) ManageAgentInteractions(ctx context.Context, msg any) error {
	m, err := parseMessage(msg)
	if err != nil {
		return c.interactionFailed(m, err)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	c.record(m)

	exec, ok := c.registry.executor(m.To)
	if !ok {
		return c.interactionFailed(m, fmt.Errorf("deliver message %s: %w: %s", m.ID, ErrUnknownWorker, m.To))
	}
	receiver, ok := exec.(MessageReceiver)
	if !ok {
		c.opts.logger.Debug("message recorded, target does not receive",
			zap.String("message_id", m.ID), zap.String("to", m.To))
		return nil
	}
	if err := receiver.Receive(ctx, m); err != nil {
		return c.interactionFailed(m, fmt.Errorf("deliver message %s to %s: %w", m.ID, m.To, err))
	}
	return nil
}

// Interactions returns a copy of the audit log, oldest first.
func (c *Coordinator) Interactions() []models.AgentMessage {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	return append([]models.AgentMessage(nil), c.audit...)
}

func (c *Coordinator) record(m models.AgentMessage) {
	c.auditMu.Lock()
	defer c.auditMu.Unlock()
	m.Payload = models.CloneMap(m.Payload)
	c.audit = append(c.audit, m)
	if over := len(c.audit) - maxAuditEntries; over > 0 {
		c.audit = append([]models.AgentMessage(nil), c.audit[over:]...)
	}
}

func (c *Coordinator) interactionFailed(m models.AgentMessage, err error) error {
	c.opts.logger.Warn("agent interaction failed",
		zap.String("from", m.From), zap.String("to", m.To), zap.Error(err))
	c.opts.sink.Emit(events.Event{
		Type:      events.AgentError,
		WorkerID:  m.From,
		Message:   "agent interaction",
		Error:     err,
		Timestamp: time.Now(),
	})
	return err
}

func parseMessage(msg any) (models.AgentMessage, error) {
	var m models.AgentMessage
	switch v := msg.(type) {
	case models.AgentMessage:
		m = v
	case *models.AgentMessage:
		if v == nil {
			return m, fmt.Errorf("%w: nil message", ErrInvalidMessage)
		}
		m = *v
	case map[string]any:
		var ok bool
		for _, field := range []struct {
			key string
			dst *string
		}{{"from", &m.From}, {"to", &m.To}, {"type", &m.Type}} {
			if *field.dst, ok = v[field.key].(string); !ok {
				return m, fmt.Errorf("%w: field %q must be a string", ErrInvalidMessage, field.key)
			}
		}
		if id, ok := v["id"].(string); ok {
			m.ID = id
		}
		if raw, present := v["payload"]; present && raw != nil {
			payload, ok := raw.(map[string]any)
			if !ok {
				return m, fmt.Errorf("%w: payload must be an object", ErrInvalidMessage)
			}
			m.Payload = payload
		}
	default:
		return m, fmt.Errorf("%w: unsupported type %T", ErrInvalidMessage, msg)
	}

	if m.From == "" || m.To == "" || m.Type == "" {
		return m, fmt.Errorf("%w: from, to and type are required", ErrInvalidMessage)
	}
	return m, nil
}
