// Package pipeline wires together topic matching, rate limiting, schema
// validation and upstream forwarding into a bounded, errgroup-supervised
// worker pool that processes every inbound message, sized by
// performance.worker_threads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/mqttgov/proxy/internal/audit"
	"github.com/mqttgov/proxy/internal/broker"
	"github.com/mqttgov/proxy/internal/config"
	"github.com/mqttgov/proxy/internal/message"
	"github.com/mqttgov/proxy/internal/metrics"
	"github.com/mqttgov/proxy/internal/quarantine"
	"github.com/mqttgov/proxy/internal/ratelimit"
	"github.com/mqttgov/proxy/internal/schema"
	"github.com/mqttgov/proxy/internal/topic"
)

// Outcome is the pipeline's per-message result, returned from
// processOne so tests can assert on behavior without a real broker.
type Outcome struct {
	Forwarded bool
	// DryRun reports whether Forwarded is a would-have-forwarded result
	// that never reached the publisher. Metrics must not count it as a
	// real forward.
	DryRun   bool
	Reason   quarantine.Reason
	Detail   string
	SchemaID string
	// ForwardDuration is the time spent in the publish call itself, set
	// only when a real publish happened.
	ForwardDuration time.Duration
}

// QuarantineWriter persists a rejected message's record and (if it carries
// a payload worth keeping) its blob.
type QuarantineWriter interface {
	Quarantine(ctx context.Context, rec quarantine.Record, payload []byte) error
}

// Publisher forwards an accepted message upstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Pipeline owns the bounded message buffer and the pool of workers
// draining it.
type Pipeline struct {
	store     *config.Store
	matcher   *topic.Matcher
	registry  *schema.Registry
	limiter   *ratelimit.Limiter
	quarantine QuarantineWriter
	publisher Publisher
	auditSink *audit.Sink
	metrics   *metrics.Registry

	buf chan message.Message
}

// New builds a Pipeline. matcher and registry reflect the configuration
// snapshot in store at construction time; the pipeline itself re-reads
// store on every message so hot config reloads take effect without
// restarting workers.
func New(store *config.Store, matcher *topic.Matcher, registry *schema.Registry, limiter *ratelimit.Limiter, qw QuarantineWriter, pub Publisher, auditSink *audit.Sink, mreg *metrics.Registry) *Pipeline {
	snap := store.Load()
	return &Pipeline{
		store:      store,
		matcher:    matcher,
		registry:   registry,
		limiter:    limiter,
		quarantine: qw,
		publisher:  pub,
		auditSink:  auditSink,
		metrics:    mreg,
		buf:        make(chan message.Message, snap.Performance.MessageBufferSize),
	}
}

// Submit enqueues msg for processing. It returns false immediately if the
// buffer is saturated, rather than blocking the broker's callback
// goroutine.
func (p *Pipeline) Submit(msg message.Message) bool {
	select {
	case p.buf <- msg:
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.buf)))
		}
		return true
	default:
		return false
	}
}

// Run starts worker_threads workers draining the buffer under an
// errgroup. Workers return no errors; a panic while deciding a message is
// recovered in processOne and quarantined as internal_error, so the pool
// does not shrink. Run blocks until ctx is cancelled, then drains the
// buffer for up to shutdown_timeout before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	snap := p.store.Load()
	workers := snap.Performance.WorkerThreads
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}

	<-ctx.Done()
	return p.drain(snap.Global.ShutdownTimeout, g)
}

func (p *Pipeline) drain(timeout time.Duration, g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("pipeline: shutdown timed out after %s with %d messages still buffered", timeout, len(p.buf))
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// drain what's already queued before exiting: the channel is
			// not closed, so keep receiving until the buffer is empty.
			for {
				select {
				case msg, ok := <-p.buf:
					if !ok {
						return
					}
					p.processOne(context.Background(), msg)
				default:
					return
				}
			}
		case msg, ok := <-p.buf:
			if !ok {
				return
			}
			p.processOne(ctx, msg)
		}
	}
}

// processOne runs the decision pipeline for one message: size check,
// topic match, client rule check (folded into Match), rate limit, schema
// lookup, validate, forward, record outcome.
func (p *Pipeline) processOne(ctx context.Context, msg message.Message) Outcome {
	start := time.Now()
	snap := p.store.Load()

	outcome := func() (o Outcome) {
		defer func() {
			if r := recover(); r != nil {
				o = p.reject(ctx, msg, quarantine.ReasonInternalError, fmt.Sprintf("panic: %v", r), "")
			}
		}()
		return p.decide(ctx, snap, msg)
	}()

	if outcome.Forwarded {
		if p.metrics != nil && !outcome.DryRun {
			p.metrics.RecordForwarded(outcome.ForwardDuration)
		}
	} else if p.metrics != nil {
		p.metrics.RecordQuarantined(string(outcome.Reason))
	}
	p.audit(msg, outcome, time.Since(start))
	return outcome
}

func (p *Pipeline) decide(ctx context.Context, snap *config.Snapshot, msg message.Message) Outcome {
	if msg.Size() > snap.Global.MaxMessageSize {
		return p.reject(ctx, msg, quarantine.ReasonPayloadTooLarge, fmt.Sprintf("payload size %d exceeds max_message_size %d", msg.Size(), snap.Global.MaxMessageSize), "")
	}

	matched, schemaID := p.matcher.Match(msg.Topic(), msg.ClientID())
	if !matched {
		return p.reject(ctx, msg, quarantine.ReasonTopicNotAllowed, fmt.Sprintf("topic %q is not permitted by any binding or client rule", msg.Topic()), "")
	}

	if p.limiter != nil && snap.Security.RateLimiting.Enabled && !p.limiter.Allow(msg.ClientID()) {
		return p.reject(ctx, msg, quarantine.ReasonRateLimited, fmt.Sprintf("client %q exceeded %.1f msg/window", msg.ClientID(), snap.Security.RateLimiting.RatePerSec), schemaID)
	}

	if schemaID == "" {
		return p.reject(ctx, msg, quarantine.ReasonNoSchemaBound, fmt.Sprintf("topic %q matched a binding with no schema bound", msg.Topic()), "")
	}

	if !p.registry.Exists(schemaID) {
		return p.reject(ctx, msg, quarantine.ReasonSchemaCompileError, fmt.Sprintf("schema %q is not loaded", schemaID), schemaID)
	}

	vstart := time.Now()
	mode := schema.Mode(snap.Validation.Mode)
	violated, verr := p.registry.Validate(schemaID, msg.Payload(), mode)
	if p.metrics != nil {
		p.metrics.RecordValidation(schemaID, violated, time.Since(vstart))
	}
	// verr is nil for a warn_only violation (Registry.applyMode), so only
	// a non-nil error rejects the message; violated alone also covers
	// warn_only, which must still forward.
	if verr != nil {
		return p.reject(ctx, msg, quarantine.ReasonSchemaValidationError, verr.Error(), schemaID)
	}
	var warnReason quarantine.Reason
	var warnDetail string
	if violated {
		warnReason = quarantine.ReasonSchemaValidationError
		warnDetail = "payload does not match schema; forwarded under warn_only mode"
	}

	if snap.Global.DryRun {
		return Outcome{Forwarded: true, DryRun: true, SchemaID: schemaID, Reason: warnReason, Detail: warnDetail}
	}

	if p.publisher != nil {
		pubStart := time.Now()
		err := p.publisher.Publish(ctx, msg.Topic(), msg.Payload(), byte(msg.QoS()), msg.Retain())
		pubDuration := time.Since(pubStart)
		if err != nil {
			if isUpstreamUnavailable(err) {
				return p.reject(ctx, msg, quarantine.ReasonUpstreamUnavailable, err.Error(), schemaID)
			}
			return p.reject(ctx, msg, quarantine.ReasonInternalError, err.Error(), schemaID)
		}
		return Outcome{Forwarded: true, SchemaID: schemaID, Reason: warnReason, Detail: warnDetail, ForwardDuration: pubDuration}
	}

	return Outcome{Forwarded: true, SchemaID: schemaID, Reason: warnReason, Detail: warnDetail}
}

// isUpstreamUnavailable classifies a publish failure as an
// upstream-availability problem (broker unreachable, queue saturated,
// circuit open) versus a generic internal error.
func isUpstreamUnavailable(err error) bool {
	return errors.Is(err, MQTT.ErrNotConnected) || errors.Is(err, broker.ErrQueueSaturated) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (p *Pipeline) reject(ctx context.Context, msg message.Message, reason quarantine.Reason, detail, schemaID string) Outcome {
	if p.quarantine != nil {
		if rec, err := quarantine.NewRecord(msg.Topic(), msg.ClientID(), byte(msg.QoS()), msg.Retain(), reason, detail, schemaID, "", msg.Size(), msg.ReceivedAt()); err == nil {
			p.quarantine.Quarantine(ctx, rec, msg.Payload())
		}
	}
	return Outcome{Forwarded: false, Reason: reason, Detail: detail, SchemaID: schemaID}
}

func (p *Pipeline) audit(msg message.Message, outcome Outcome, d time.Duration) {
	if p.auditSink == nil {
		return
	}
	decision := audit.DecisionQuarantined
	if outcome.Forwarded {
		decision = audit.DecisionForwarded
	}
	p.auditSink.Emit(audit.Record{
		Timestamp:  time.Now().UTC(),
		Decision:   decision,
		Topic:      msg.Topic(),
		ClientID:   msg.ClientID(),
		SchemaID:   outcome.SchemaID,
		Reason:     string(outcome.Reason),
		Detail:     outcome.Detail,
		DurationUs: d.Microseconds(),
	})
}
