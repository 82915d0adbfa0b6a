// Package stats turns committed consensus events into InfluxDB points and
// writes them in the background.
package stats

import (
	"maps"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/types"
)

// Handler converts an event into points. Events it does not handle yield nil.
type Handler func(event *types.Event) []*write.Point

// Writer holds the tags attached to every point.
type Writer struct {
	defaultTags map[string]string
}

func NewWriter(defaultTags map[string]string) *Writer {
	return &Writer{defaultTags: defaultTags}
}

// Handlers returns every handler keyed by event type.
func (w *Writer) Handlers() map[string]Handler {
	return map[string]Handler{
		"rounds":    w.RoundStats,
		"slots":     w.MinerSlots,
		"terms":     w.TermChange,
		"dividends": w.Dividends,
		"safety":    w.SafetyViolation,
	}
}

func (w *Writer) tags(extra map[string]string) map[string]string {
	tags := make(map[string]string, len(w.defaultTags)+len(extra))
	maps.Copy(tags, w.defaultTags)
	maps.Copy(tags, extra)
	return tags
}

// RoundStats writes one point per sealed round.
func (w *Writer) RoundStats(event *types.Event) []*write.Point {
	if event.Kind != types.EventRoundSealed || event.Round == nil {
		return nil
	}
	r := event.Round
	produced := r.Produced()

	tags := w.tags(map[string]string{
		config.TermNumberField: strconv.FormatUint(r.Term, 10),
	})
	fields := map[string]any{
		config.RoundNumberField: r.Number,
		config.TermNumberField:  r.Term,
		config.ProducedField:    produced,
		config.MissedField:      len(r.Slots) - produced,
		"slots":                 len(r.Slots),
		"duration":              r.SealedAt - r.Start,
		"height":                event.Height,
	}
	return []*write.Point{write.NewPoint(config.RoundStatsMeasurement, tags, fields, time.Unix(int64(r.SealedAt), 0))}
}

// MinerSlots writes one point per slot of a sealed round.
func (w *Writer) MinerSlots(event *types.Event) []*write.Point {
	if event.Kind != types.EventRoundSealed || event.Round == nil {
		return nil
	}
	r := event.Round
	points := make([]*write.Point, 0, len(r.Slots))
	for _, s := range r.Slots {
		tags := w.tags(map[string]string{
			"miner": s.Miner.String(),
			"state": s.State.String(),
		})
		produced := 0
		if s.Produced() {
			produced = 1
		}
		fields := map[string]any{
			config.RoundNumberField: r.Number,
			config.TermNumberField:  r.Term,
			config.ProducedField:    produced,
			"order":                 s.Order,
			"expected_time":         s.ExpectedTime,
		}
		points = append(points, write.NewPoint(config.MinerSlotsMeasurement, tags, fields, time.Unix(int64(s.ExpectedTime), 0)))
	}
	return points
}

func (w *Writer) TermChange(event *types.Event) []*write.Point {
	if event.Kind != types.EventTermStarted || event.Term == nil {
		return nil
	}
	t := event.Term
	fields := map[string]any{
		config.TermNumberField:  t.Number,
		config.RoundNumberField: t.FirstRound,
		"miner_count":           len(t.Miners),
		"height":                event.Height,
	}
	for i, m := range t.Miners {
		fields["miner_"+strconv.Itoa(i)] = m.String()
	}
	return []*write.Point{write.NewPoint(config.TermChangeMeasurement, w.tags(nil), fields, time.Unix(int64(t.Start), 0))}
}

// Dividends writes the pool totals and one point per paid voter.
func (w *Writer) Dividends(event *types.Event) []*write.Point {
	if event.Kind != types.EventDividendsDistributed || event.Pool == nil {
		return nil
	}
	p := event.Pool
	ts := time.Unix(int64(event.Timestamp), 0)
	termTag := strconv.FormatUint(p.Term, 10)

	points := make([]*write.Point, 0, len(p.Records)+1)
	points = append(points, write.NewPoint(config.DividendsMeasurement,
		w.tags(map[string]string{config.TermNumberField: termTag}),
		map[string]any{
			"balance":     p.Balance,
			"distributed": p.Distributed,
			"remainder":   p.Balance - p.Distributed,
			"recipients":  len(p.Records),
		}, ts))

	for _, rec := range p.Records {
		points = append(points, write.NewPoint(config.DividendsMeasurement,
			w.tags(map[string]string{
				config.TermNumberField: termTag,
				"voter":                rec.Voter.String(),
				"candidate":            rec.Candidate.String(),
			}),
			map[string]any{
				"amount": rec.Amount,
				"weight": rec.Weight.String(),
			}, ts))
	}
	return points
}

func (w *Writer) SafetyViolation(event *types.Event) []*write.Point {
	if event.Kind != types.EventSafetyViolation {
		return nil
	}
	code := errs.CodeOf(event.Err)
	if code == "" {
		code = "unknown"
	}
	tags := w.tags(map[string]string{
		"caller": event.Caller.String(),
		"code":   code,
	})
	msg := ""
	if event.Err != nil {
		msg = event.Err.Error()
	}
	fields := map[string]any{
		"height": event.Height,
		"error":  msg,
	}
	return []*write.Point{write.NewPoint(config.SafetyEventMeasurement, tags, fields, time.Unix(int64(event.Timestamp), 0))}
}
