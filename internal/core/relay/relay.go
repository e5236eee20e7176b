package relay

import (
	"context"
	"sync"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"go.uber.org/zap"
)

const (
	// DefaultQueueLimit bounds each direction's pending frame queue.
	DefaultQueueLimit = 128

	// DefaultDrainTimeout bounds phase two of shutdown.
	DefaultDrainTimeout = 3 * time.Second
)

// Cause explains why a relay run finished.
type Cause int

const (
	CauseUnknown Cause = iota
	CauseTelephonyStop
	CauseAgentStop
	CauseTransportError
	CauseCanceled
)

func (c Cause) String() string {
	switch c {
	case CauseTelephonyStop:
		return "telephony_stop"
	case CauseAgentStop:
		return "agent_stop"
	case CauseTransportError:
		return "transport_error"
	case CauseCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Clean reports whether the run ended through a stop frame rather than a
// failure.
func (c Cause) Clean() bool {
	return c == CauseTelephonyStop || c == CauseAgentStop
}

// Relay pumps frames between a telephony transport and an agent transport,
// one bounded FIFO queue per direction. Audio frames are dropped oldest
// first on overflow; control frames always get through. A stop frame from
// either side, a fatal transport error, or context cancellation triggers a
// two phase shutdown: intake stops on both sides, queued frames drain for
// at most the drain timeout, then both transports are closed together.
type Relay struct {
	callID    string
	telephony Transport
	agent     Transport

	queueLimit   int
	drainTimeout time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithQueueLimit overrides the per-direction queue bound.
func WithQueueLimit(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.queueLimit = n
		}
	}
}

// WithDrainTimeout overrides the shutdown drain bound.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// New creates a relay for one call. callID is only used for logging.
func New(callID string, telephony, agent Transport, opts ...Option) *Relay {
	r := &Relay{
		callID:       callID,
		telephony:    telephony,
		agent:        agent,
		queueLimit:   DefaultQueueLimit,
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// outcome records the first cause/error pair; later reports are ignored so
// errors caused by our own shutdown do not overwrite the real reason.
type outcome struct {
	mu    sync.Mutex
	cause Cause
	err   error
}

func (o *outcome) report(cause Cause, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cause == CauseUnknown {
		o.cause = cause
		o.err = err
	}
}

func (o *outcome) get() (Cause, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cause, o.err
}

type direction struct {
	srcSide string
	dstSide string
	src     Transport
	dst     Transport
	queue   *frameQueue
}

// Run relays frames until the call ends and returns why it ended. The
// returned error is non-nil only for transport failures and cancellation.
func (r *Relay) Run(ctx context.Context) (Cause, error) {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	// Writers keep draining after ctx is canceled; the drain timer bounds them.
	writeCtx, cancelWrite := context.WithCancel(context.Background())
	defer cancelWrite()

	toAgent := newFrameQueue(r.queueLimit)
	toTelephony := newFrameQueue(r.queueLimit)

	dirs := []direction{
		{srcSide: "telephony", dstSide: "agent", src: r.telephony, dst: r.agent, queue: toAgent},
		{srcSide: "agent", dstSide: "telephony", src: r.agent, dst: r.telephony, queue: toTelephony},
	}

	var res outcome
	drained := make(chan struct{})

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			cancelRead()
			toAgent.CloseIntake()
			toTelephony.CloseIntake()
			go func() {
				timer := time.NewTimer(r.drainTimeout)
				defer timer.Stop()
				select {
				case <-drained:
				case <-timer.C:
					logger.Base().Warn("relay drain timeout, discarding queued frames",
						zap.String("call_id", r.callID))
					toAgent.Discard()
					toTelephony.Discard()
					cancelWrite()
					// A writer stuck in a socket write does not see the
					// canceled context; closing the transports errors it out.
					_ = r.telephony.Close()
					_ = r.agent.Close()
				}
			}()
		})
	}

	var readers, writers sync.WaitGroup
	for i := range dirs {
		d := dirs[i]

		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				frame, err := d.src.ReadFrame(readCtx)
				if err != nil {
					if readCtx.Err() != nil {
						res.report(CauseCanceled, ctx.Err())
					} else {
						res.report(CauseTransportError, domain.NewTransportError(d.srcSide, "read", err))
					}
					shutdown()
					return
				}
				d.queue.Push(frame)
				if frame.Kind == KindStop {
					if d.srcSide == "telephony" {
						res.report(CauseTelephonyStop, nil)
					} else {
						res.report(CauseAgentStop, nil)
					}
					shutdown()
					return
				}
			}
		}()

		writers.Add(1)
		go func() {
			defer writers.Done()
			for {
				frame, ok := d.queue.Pop()
				if !ok {
					return
				}
				if err := d.dst.WriteFrame(writeCtx, frame); err != nil {
					res.report(CauseTransportError, domain.NewTransportError(d.dstSide, "write", err))
					shutdown()
					return
				}
			}
		}()
	}

	// Cancellation enters the same shutdown path as a stop frame.
	go func() {
		select {
		case <-ctx.Done():
			res.report(CauseCanceled, ctx.Err())
			shutdown()
		case <-drained:
		}
	}()

	writers.Wait()
	close(drained)

	// Both transports close together so neither side lingers half-open.
	_ = r.telephony.Close()
	_ = r.agent.Close()
	readers.Wait()

	cause, err := res.get()
	logger.Base().Info("relay finished",
		zap.String("call_id", r.callID),
		zap.String("cause", cause.String()),
		zap.Int("dropped_to_agent", toAgent.Dropped()),
		zap.Int("dropped_to_telephony", toTelephony.Dropped()),
		zap.Error(err))
	return cause, err
}
