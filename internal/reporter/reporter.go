// Package reporter mirrors servable lifecycle states into current-models.
//
// The mirror is one-way and best effort: failures are logged and dropped, and
// discovery never reads what is written here.
package reporter

import (
	"context"
	"strconv"

	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/logging"
	"github.com/kimbyungsang/cranberries/internal/observability"
	"github.com/kimbyungsang/cranberries/internal/servable"
	"github.com/rs/zerolog"
)

const CurrentModelsNode = "current-models"

// Writer is the part of coord.Client the reporter writes through.
type Writer interface {
	Create(path string, data []byte, ephemeral bool) error
	Set(path string, data []byte) error
	Delete(path string) error
	EnforcePath(path string) error
}

var _ Writer = (*coord.Client)(nil)

type StateReporter struct {
	client Writer
	log    zerolog.Logger
}

func New(client Writer) *StateReporter {
	return &StateReporter{
		client: client,
		log:    logging.Component("reporter.StateReporter"),
	}
}

// Run reports every event from events until the channel closes or ctx is done.
func (r *StateReporter) Run(ctx context.Context, events <-chan servable.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Report(ev)
		}
	}
}

// Report writes one state transition. It returns whether the mirror was updated.
func (r *StateReporter) Report(ev servable.Event) bool {
	prefix := coord.Join(CurrentModelsNode, ev.ID.Name)
	name := coord.Join(prefix, strconv.FormatInt(ev.ID.Version, 10))
	value := ev.State.String()
	r.log.Info().Str("node", name).Str("state", value).Msg("reporting servable state")

	if ev.State == servable.StateEnd {
		err := r.client.Delete(name)
		if err != nil && !coord.IsNotFound(err) {
			r.log.Error().Err(err).Str("node", name).Msg("state delete failed")
			observability.RecordReporterWrite("delete", false)
			return false
		}
		observability.RecordReporterWrite("delete", true)
		return true
	}

	if err := r.client.EnforcePath(prefix); err != nil {
		r.log.Error().Err(err).Str("node", prefix).Msg("unable to create state prefix")
		observability.RecordReporterWrite("enforce_path", false)
		return false
	}

	err := r.client.Create(name, []byte(value), true)
	if err == nil {
		observability.RecordReporterWrite("create", true)
		return true
	}
	if !coord.IsNodeExists(err) {
		r.log.Error().Err(err).Str("node", name).Msg("state create failed")
		observability.RecordReporterWrite("create", false)
		return false
	}
	if err := r.client.Set(name, []byte(value)); err != nil {
		r.log.Error().Err(err).Str("node", name).Msg("state set failed")
		observability.RecordReporterWrite("set", false)
		return false
	}
	observability.RecordReporterWrite("set", true)
	return true
}
