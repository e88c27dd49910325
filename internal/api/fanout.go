package api

import (
	"context"
	"encoding/json"

	"github.com/fmops/gatehouse/internal/audit"
	"github.com/fmops/gatehouse/internal/auth"
	"github.com/fmops/gatehouse/internal/infrastructure/influxdb"
	"github.com/fmops/gatehouse/internal/infrastructure/logging"
	"github.com/fmops/gatehouse/internal/infrastructure/mqtt"
)

// eventChanSize is the buffer size for the async security event channel.
// Events beyond this are dropped (best-effort) to avoid back-pressure on
// auth flows.
const eventChanSize = 256

// eventQoS is the MQTT quality-of-service level for published events.
const eventQoS = 1

// EventFanout distributes security events to every configured sink: the
// audit trail, WebSocket subscribers, the MQTT bus and InfluxDB telemetry.
// It implements auth.Recorder; Record never blocks and never fails the
// calling auth flow.
type EventFanout struct {
	audit  audit.Repository
	hub    *Hub
	mqtt   *mqtt.Client
	influx *influxdb.Client
	logger *logging.Logger
	topics mqtt.Topics
	ch     chan auth.Event
}

// NewEventFanout creates the fanout. The audit repository and logger are
// required; hub, MQTT and InfluxDB are optional sinks and may be nil.
func NewEventFanout(auditRepo audit.Repository, hub *Hub, mqttClient *mqtt.Client, influxClient *influxdb.Client, logger *logging.Logger) *EventFanout {
	return &EventFanout{
		audit:  auditRepo,
		hub:    hub,
		mqtt:   mqttClient,
		influx: influxClient,
		logger: logger,
		ch:     make(chan auth.Event, eventChanSize),
	}
}

// Record enqueues the event for asynchronous distribution. If the channel
// is full the event is dropped and a warning logged.
func (f *EventFanout) Record(_ context.Context, ev auth.Event) {
	select {
	case f.ch <- ev:
	default:
		f.logger.Warn("security event channel full, dropping event",
			"type", ev.Type,
			"account_id", ev.AccountID,
		)
	}
}

// Run dispatches events serially until the context is cancelled, then
// drains what is left. Serial writes avoid unbounded goroutine creation
// and are kinder to SQLite's single-writer model.
func (f *EventFanout) Run(ctx context.Context) {
	for {
		select {
		case ev := <-f.ch:
			f.dispatch(ev)
		case <-ctx.Done():
			// Drain remaining events before exiting
			for {
				select {
				case ev := <-f.ch:
					f.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

// dispatch writes one event to every sink. Failures are logged, never
// propagated: no sink may take an auth flow down with it.
func (f *EventFanout) dispatch(ev auth.Event) {
	f.writeAudit(ev)
	f.broadcast(ev)
	f.publish(ev)
	f.telemetry(ev)
}

// writeAudit persists the event as an audit trail entry.
func (f *EventFanout) writeAudit(ev auth.Event) {
	if f.audit == nil {
		return
	}

	entry := &audit.Entry{
		Action:    string(ev.Type),
		AccountID: ev.AccountID,
		ActorID:   ev.ActorID,
		Email:     ev.Email,
		IP:        ev.IP,
		Device:    ev.Device,
		Details:   ev.Details,
		CreatedAt: ev.At,
	}
	if err := f.audit.Create(context.Background(), entry); err != nil {
		f.logger.Error("audit write failed", "action", entry.Action, "error", err)
	}
}

// broadcast pushes the event to WebSocket subscribers: the full stream for
// administrators and the account's own stream for the subject.
func (f *EventFanout) broadcast(ev auth.Event) {
	if f.hub == nil {
		return
	}

	f.hub.Broadcast(channelSecurityPrefix+string(ev.Type), ev)
	if ev.AccountID != "" {
		f.hub.Broadcast(channelAccountPrefix+ev.AccountID, ev)
	}
}

// publish puts the event on the MQTT bus for other facility services.
func (f *EventFanout) publish(ev auth.Event) {
	if f.mqtt == nil || !f.mqtt.IsConnected() {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("marshal security event failed", "type", ev.Type, "error", err)
		return
	}

	if err := f.mqtt.Publish(f.topics.Event(string(ev.Type)), payload, eventQoS, false); err != nil {
		f.logger.Warn("publish security event failed", "type", ev.Type, "error", err)
	}
	if ev.AccountID != "" {
		if err := f.mqtt.Publish(f.topics.AccountEvents(ev.AccountID), payload, eventQoS, false); err != nil {
			f.logger.Warn("publish account event failed", "account_id", ev.AccountID, "error", err)
		}
	}
}

// telemetry writes event-rate and lockout points to InfluxDB.
func (f *EventFanout) telemetry(ev auth.Event) {
	if f.influx == nil {
		return
	}

	f.influx.WriteAuthEvent(string(ev.Type), string(ev.Role))

	if ev.Type == auth.EventLockout {
		attempts, _ := ev.Details["failed_attempts"].(int) //nolint:errcheck // zero is an acceptable fallback
		f.influx.WriteLockout(ev.AccountID, attempts)
	}
}
