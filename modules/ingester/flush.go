package ingester

import (
	"errors"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/diagnet/diagnet/modules/storage"
	"github.com/diagnet/diagnet/pkg/model"
)

var (
	metricFlushedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "ingester_flushed_batches_total",
		Help:      "Batches persisted to the store.",
	})
	metricFlushRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "diagnet",
		Name:      "ingester_flush_retries_total",
		Help:      "Persist attempts retried after a transient store failure.",
	})
	metricFlushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "diagnet",
		Name:      "ingester_flush_batch_size",
		Help:      "Readings per persisted batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// flushLoop gathers buffered readings into batches and persists them. A
// batch closes when it reaches BatchMax or when the linger timer fires,
// whichever comes first. On drain it empties whatever the buffer still
// holds, then signals done.
func (i *Ingester) flushLoop() {
	defer close(i.done)

	batch := make([]model.Reading, 0, i.cfg.BatchMax)
	linger := time.NewTimer(i.cfg.BatchLinger)
	if !linger.Stop() {
		<-linger.C
	}
	lingerActive := false

	flush := func() {
		if lingerActive {
			if !linger.Stop() {
				select {
				case <-linger.C:
				default:
				}
			}
			lingerActive = false
		}
		if len(batch) == 0 {
			return
		}
		i.persist(batch)
		batch = batch[:0]
	}

	for {
		select {
		case r := <-i.buffer:
			metricBufferLength.Set(float64(len(i.buffer)))
			batch = append(batch, *r)
			if len(batch) >= i.cfg.BatchMax {
				flush()
			} else if !lingerActive {
				linger.Reset(i.cfg.BatchLinger)
				lingerActive = true
			}

		case <-linger.C:
			lingerActive = false
			if len(batch) > 0 {
				i.persist(batch)
				batch = batch[:0]
			}

		case <-i.drainCh:
			// Intake has stopped. Drain the buffer in full batches until it
			// is empty or the grace window cancels flushCtx.
			for i.flushCtx.Err() == nil {
				select {
				case r := <-i.buffer:
					batch = append(batch, *r)
					if len(batch) >= i.cfg.BatchMax {
						flush()
					}
				default:
					flush()
					return
				}
			}
			flush()
			return
		}
	}
}

// persist writes one batch, retrying transient failures indefinitely;
// only flushCtx cancellation (shutdown grace expiry) gives up, and those
// readings are counted as dropped. A rejected batch falls back to per-row
// inserts so one bad row cannot sink its batchmates.
func (i *Ingester) persist(batch []model.Reading) {
	boff := backoff.New(i.flushCtx, backoff.Config{
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	})

	for boff.Ongoing() {
		err := i.store.AppendBatch(i.flushCtx, batch)
		if err == nil {
			metricFlushedBatches.Inc()
			metricFlushBatchSize.Observe(float64(len(batch)))
			return
		}
		if errors.Is(err, storage.ErrStoreRejected) {
			i.persistRows(batch)
			return
		}
		level.Warn(i.logger).Log("msg", "persist failed; retrying", "batch", len(batch), "err", err)
		metricFlushRetries.Inc()
		boff.Wait()
	}

	i.countShutdownDropped(int64(len(batch)))
}

// persistRows retries a rejected batch row by row, dropping only the rows
// the store refuses.
func (i *Ingester) persistRows(batch []model.Reading) {
	boff := backoff.New(i.flushCtx, backoff.Config{
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	})

	for idx := 0; idx < len(batch); {
		if !boff.Ongoing() {
			i.countShutdownDropped(int64(len(batch) - idx))
			return
		}
		err := i.store.AppendBatch(i.flushCtx, batch[idx:idx+1])
		if err == nil {
			boff.Reset()
			idx++
			continue
		}
		if errors.Is(err, storage.ErrStoreRejected) {
			metricDiscardedReadings.WithLabelValues(reasonStoreRejected).Inc()
			level.Warn(i.logger).Log("msg", "store rejected reading", "machine", batch[idx].MachineID, "err", err)
			boff.Reset()
			idx++
			continue
		}
		metricFlushRetries.Inc()
		boff.Wait()
	}
	metricFlushedBatches.Inc()
	metricFlushBatchSize.Observe(float64(len(batch)))
}
