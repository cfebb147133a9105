package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fleeti/fleeti-sensors/internal/bus"
	"github.com/fleeti/fleeti-sensors/internal/cache"
	"github.com/fleeti/fleeti-sensors/internal/config"
	"github.com/fleeti/fleeti-sensors/internal/derive"
	"github.com/fleeti/fleeti-sensors/internal/metrics"
	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"github.com/fleeti/fleeti-sensors/internal/transmission"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SnapshotStore answers previous-magnet lookups and records new entries.
type SnapshotStore interface {
	derive.SnapshotSource
	SaveMagnet(ctx context.Context, assetID string, entries []sensors.MagnetEntry) error
}

// Pipeline holds the collaborators of Run.
type Pipeline struct {
	Deriver   *derive.Deriver
	Snapshots SnapshotStore  // optional; change tracking is stateless without it
	Changes   *cache.Manager // suppresses unchanged results; required with a Transmitter

	// Transmitter receives changed results. When nil every result is written
	// to Output as one JSON line.
	Transmitter transmission.Transmitter
	Output      io.Writer

	Logger *logrus.Logger
}

// Run reads JSON-lines telemetry from input until EOF or ctx is cancelled.
// A reader goroutine parses records onto the bus and a processor goroutine
// derives, records and forwards them in input order.
func Run(ctx context.Context, input io.Reader, p Pipeline) error {
	if p.Deriver == nil {
		return errors.New("app: deriver is required")
	}
	if p.Transmitter == nil && p.Output == nil {
		return errors.New("app: a transmitter or an output is required")
	}
	if p.Transmitter != nil && p.Changes == nil {
		p.Changes = cache.NewManager(p.Logger)
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}

	messageBus := bus.New(config.BusBuffer)
	sub := messageBus.Subscribe()
	grp, ctx := errgroup.WithContext(ctx)

	// Reader --------------------------------------------------------------
	grp.Go(func() error {
		defer messageBus.Close()
		return readRecords(ctx, input, messageBus, p.Logger)
	})

	// Processor -----------------------------------------------------------
	grp.Go(func() error {
		var enc *json.Encoder
		if p.Transmitter == nil {
			enc = json.NewEncoder(p.Output)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rec, ok := <-sub:
				if !ok {
					return nil
				}
				if err := p.process(ctx, rec, enc); err != nil {
					return err
				}
			}
		}
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func readRecords(ctx context.Context, input io.Reader, messageBus *bus.Bus, logger *logrus.Logger) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), config.MaxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		rec, err := sensors.ParseRecord(raw)
		if err != nil {
			metrics.IncSample(metrics.ResultError)
			logger.WithError(err).WithField("line", line).Warn("reader: skipping record")
			continue
		}
		metrics.IncSample(metrics.ResultSuccess)

		log := logger.WithFields(logrus.Fields{"line": line, "asset_id": rec.AssetID})
		if len(rec.Skipped) > 0 {
			log.WithField("fields", rec.Skipped).Debug("reader: non-numeric fields ignored")
		}
		for _, w := range sensors.ValidateSample(rec.Sample) {
			log.Debug(w)
		}

		if err := messageBus.Publish(ctx, rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading telemetry: %w", err)
	}
	logger.WithField("lines", line).Debug("reader: end of input")
	return nil
}

func (p *Pipeline) process(ctx context.Context, rec *sensors.Record, enc *json.Encoder) error {
	res := p.Deriver.Derive(ctx, rec.AssetID, rec.Sample)
	log := p.Logger.WithFields(logrus.Fields{
		"asset_id":    res.AssetID,
		"magnet":      len(res.Magnet),
		"environment": len(res.Environment),
	})

	if p.Snapshots != nil {
		storeCtx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
		err := p.Snapshots.SaveMagnet(storeCtx, res.AssetID, res.MagnetSnapshots)
		cancel()
		if err != nil {
			log.WithError(err).Warn("processor: saving magnet snapshot failed")
		}
	}

	if p.Transmitter == nil {
		if err := enc.Encode(&res); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		return nil
	}

	if !p.Changes.Changed(&res) {
		log.Debug("processor: result unchanged, not transmitting")
		return nil
	}
	if err := p.Transmitter.Transmit(ctx, &res); err != nil {
		metrics.IncPublish(metrics.ResultError)
		log.WithError(err).Warn("processor: transmit failed")
		// Retry on the next sample even if nothing changes.
		p.Changes.Reset(res.AssetID)
		return nil
	}
	metrics.IncPublish(metrics.ResultSuccess)
	return nil
}
