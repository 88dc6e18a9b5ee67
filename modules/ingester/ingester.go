// Package ingester receives sensor readings over MQTT, validates them,
// buffers them with backpressure and persists them in batches. It also
// serves the REST query surface over the persisted data.
package ingester

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/diagnet/diagnet/modules/storage"
	"github.com/diagnet/diagnet/pkg/model"
	"github.com/diagnet/diagnet/pkg/validation"
)

// Discard reasons, exported as the "reason" label of the discard counter.
const (
	reasonMalformedPayload   = "malformed_payload"
	reasonInvalidReading     = "invalid_reading"
	reasonQualityCheckFailed = "quality_check_failed"
	reasonIdentityMismatch   = "identity_mismatch"
	reasonBufferOverflow     = "buffer_overflow"
	reasonShutdownDropped    = "shutdown_dropped"
	reasonStoreRejected      = "store_rejected"
)

// Subscriber connection states, exported through the state gauge.
const (
	stateDisconnected = iota
	stateConnecting
	stateConnected
	stateDraining
)

var (
	metricDiscardedReadings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "ingester_discarded_readings_total",
		Help:      "Readings dropped before persistence, by reason.",
	}, []string{"reason"})
	metricAcceptedReadings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "ingester_accepted_readings_total",
		Help:      "Readings accepted into the persistence buffer.",
	})
	metricBufferLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "diagnet",
		Name:      "ingester_buffer_length",
		Help:      "Readings currently buffered awaiting persistence.",
	})
	metricSubscriberState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "diagnet",
		Name:      "ingester_subscriber_state",
		Help:      "Subscriber state: 0 disconnected, 1 connecting, 2 connected, 3 draining.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "ingester_broker_reconnects_total",
		Help:      "Broker reconnect attempts after a lost connection.",
	})
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Ingester is the MQTT → validate → buffer → persist pipeline plus the
// REST query handlers over the store.
type Ingester struct {
	services.Service

	cfg    Config
	store  storage.Store
	limits validation.QualityLimits
	logger kitlog.Logger

	buffer  chan *model.Reading
	drainCh chan struct{}
	done    chan struct{}

	// flushCtx outlives the service context so in-flight batches keep
	// retrying through the drain grace window; cancelled when it expires.
	flushCtx    context.Context
	flushCancel context.CancelFunc

	connLost  chan error
	connected atomic.Bool
	draining  atomic.Bool

	// Shared with tests and the shutdown accounting; the prometheus
	// counters carry the same values for observability.
	overflowCount   atomic.Int64
	shutdownDropped atomic.Int64

	now func() time.Time
}

// New builds the ingester. The MQTT connection is established once the
// service starts; an empty broker URL disables the subscriber and leaves
// only the REST write path.
func New(cfg Config, store storage.Store, limits validation.QualityLimits, logger kitlog.Logger) *Ingester {
	i := &Ingester{
		cfg:      cfg,
		store:    store,
		limits:   limits,
		logger:   logger,
		buffer:   make(chan *model.Reading, cfg.BufferCapacity),
		drainCh:  make(chan struct{}),
		done:     make(chan struct{}),
		connLost: make(chan error, 1),
		now:      time.Now,
	}
	i.flushCtx, i.flushCancel = context.WithCancel(context.Background())
	i.Service = services.NewBasicService(i.starting, i.running, i.stopping)
	return i
}

func (i *Ingester) starting(context.Context) error {
	go i.flushLoop()
	return nil
}

func (i *Ingester) running(ctx context.Context) error {
	if i.cfg.MQTT.BrokerURL == "" {
		level.Warn(i.logger).Log("msg", "no broker configured, MQTT subscriber disabled")
		<-ctx.Done()
		return nil
	}

	boff := backoff.New(ctx, backoff.Config{
		MinBackoff: time.Second,
		MaxBackoff: time.Minute,
	})

	var client mqtt.Client
	defer func() {
		if client != nil && client.IsConnected() {
			client.Disconnect(250)
		}
		i.connected.Store(false)
		metricSubscriberState.Set(stateDisconnected)
	}()

	for ctx.Err() == nil {
		metricSubscriberState.Set(stateConnecting)

		var err error
		client, err = i.connect()
		if err != nil {
			level.Warn(i.logger).Log("msg", "broker connect failed; will retry", "broker", i.cfg.MQTT.BrokerURL, "err", err)
			if !i.cfg.MQTT.AutoReconnect {
				return fmt.Errorf("broker connect failed: %w", err)
			}
			boff.Wait()
			continue
		}
		boff.Reset()
		i.connected.Store(true)
		metricSubscriberState.Set(stateConnected)
		level.Info(i.logger).Log("msg", "connected to broker", "broker", i.cfg.MQTT.BrokerURL)

		select {
		case <-ctx.Done():
			return nil
		case err := <-i.connLost:
			i.connected.Store(false)
			metricSubscriberState.Set(stateDisconnected)
			level.Warn(i.logger).Log("msg", "broker connection lost", "err", err)
			if !i.cfg.MQTT.AutoReconnect {
				return fmt.Errorf("broker connection lost: %w", err)
			}
			metricReconnects.Inc()
			boff.Wait()
		}
	}
	return nil
}

// stopping drains the pipeline: intake has stopped with the subscriber,
// the flusher gets the grace window to empty the buffer, and whatever is
// left is counted as dropped.
func (i *Ingester) stopping(_ error) error {
	i.draining.Store(true)
	metricSubscriberState.Set(stateDraining)
	close(i.drainCh)

	select {
	case <-i.done:
	case <-time.After(i.cfg.ShutdownGrace):
		i.flushCancel()
		<-i.done
	}
	i.flushCancel()

	// Anything still buffered after the flusher exited is lost; the broker
	// will redeliver on the next session.
	for {
		select {
		case <-i.buffer:
			i.countShutdownDropped(1)
		default:
			metricSubscriberState.Set(stateDisconnected)
			if n := i.shutdownDropped.Load(); n > 0 {
				level.Warn(i.logger).Log("msg", "shutdown dropped buffered readings", "count", n)
			}
			return nil
		}
	}
}

func (i *Ingester) connect() (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(i.cfg.MQTT.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%s", i.cfg.MQTT.ClientID, uuid.NewString()[:8]))
	opts.SetCleanSession(i.cfg.MQTT.CleanSession)
	opts.SetKeepAlive(i.cfg.MQTT.KeepAlive)
	opts.SetConnectTimeout(i.cfg.MQTT.ConnectTimeout)
	opts.SetOrderMatters(true)
	// Reconnect is handled by the running loop so backoff stays in one place.
	opts.SetAutoReconnect(false)

	if i.cfg.MQTT.Username != "" {
		opts.SetUsername(i.cfg.MQTT.Username)
		opts.SetPassword(i.cfg.MQTT.Password.String())
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case i.connLost <- err:
		default:
		}
	})

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		for _, topic := range i.cfg.MQTT.Topics {
			topic := topic
			token := c.Subscribe(topic, 1, i.handleMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				level.Error(i.logger).Log("msg", "subscribe failed", "topic", topic, "err", err)
				continue
			}
			level.Info(i.logger).Log("msg", "subscribed", "topic", topic)
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

func (i *Ingester) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	i.process(msg.Topic(), msg.Payload())
}

// process runs one message through parse, identity check, validation and
// the quality rules, then hands it to the buffer. Rejections drop the
// message; the broker redelivers on reconnect if it cares.
func (i *Ingester) process(topic string, payload []byte) {
	r := &model.Reading{}
	if err := jsonCodec.Unmarshal(payload, r); err != nil {
		metricDiscardedReadings.WithLabelValues(reasonMalformedPayload).Inc()
		level.Debug(i.logger).Log("msg", "malformed payload", "topic", topic, "err", err)
		return
	}

	if topicID, ok := machineIDFromTopic(topic); ok && topicID != r.MachineID {
		metricDiscardedReadings.WithLabelValues(reasonIdentityMismatch).Inc()
		level.Warn(i.logger).Log("msg", "payload machine id does not match topic", "topic", topic, "machine", r.MachineID)
		return
	}

	if err := validation.ValidateReading(r, i.now()); err != nil {
		metricDiscardedReadings.WithLabelValues(reasonInvalidReading).Inc()
		level.Warn(i.logger).Log("msg", "invalid reading", "machine", r.MachineID, "err", err)
		return
	}

	if err := validation.CheckQuality(r, i.limits); err != nil {
		metricDiscardedReadings.WithLabelValues(reasonQualityCheckFailed).Inc()
		level.Warn(i.logger).Log("msg", "quality check failed", "machine", r.MachineID, "err", err)
		return
	}

	i.enqueue(r)
}

// enqueue applies the drop-new overflow policy: bounded memory beats
// recency under overload, and QoS 1 redelivery covers the loss.
func (i *Ingester) enqueue(r *model.Reading) {
	if i.draining.Load() {
		i.countShutdownDropped(1)
		return
	}
	select {
	case i.buffer <- r:
		metricAcceptedReadings.Inc()
		metricBufferLength.Set(float64(len(i.buffer)))
	default:
		i.overflowCount.Inc()
		metricDiscardedReadings.WithLabelValues(reasonBufferOverflow).Inc()
		level.Warn(i.logger).Log("msg", "buffer full, dropping reading", "machine", r.MachineID)
	}
}

func (i *Ingester) countShutdownDropped(n int64) {
	i.shutdownDropped.Add(n)
	metricDiscardedReadings.WithLabelValues(reasonShutdownDropped).Add(float64(n))
}

// Connected reports whether the subscriber currently holds a broker
// connection. Used by the health endpoint.
func (i *Ingester) Connected() bool {
	return i.connected.Load()
}

// OverflowCount returns the number of readings dropped by the overflow
// policy since start.
func (i *Ingester) OverflowCount() int64 {
	return i.overflowCount.Load()
}

// ShutdownDropped returns the number of buffered readings lost at
// shutdown.
func (i *Ingester) ShutdownDropped() int64 {
	return i.shutdownDropped.Load()
}

// machineIDFromTopic extracts the id segment from machine/<id>/data
// topics. Other topic shapes carry no identity to cross-check.
func machineIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) == 3 && parts[0] == "machine" && parts[2] == "data" {
		return parts[1], true
	}
	return "", false
}
