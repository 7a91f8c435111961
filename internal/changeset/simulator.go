package changeset

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/deskbridge/deskbridge-gateway/internal/sections"
	"github.com/deskbridge/deskbridge-gateway/pkg/sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Simulator stands in for a UI engine: it applies a small synthetic
// changeset to a Debug source on every tick.
type Simulator struct {
	debug    *Debug
	log      *zap.Logger
	surface  string
	interval atomic.Int64
	seq      atomic.Uint64
}

func NewSimulator(debug *Debug, log *zap.Logger, interval time.Duration) *Simulator {
	s := &Simulator{debug: debug, log: log, surface: "simulated"}
	s.SetInterval(interval)
	return s
}

// SetInterval changes the tick interval; it takes effect on the next tick.
func (s *Simulator) SetInterval(d time.Duration) {
	if d <= 0 {
		d = 2 * time.Second
	}
	s.interval.Store(int64(d))
}

func (s *Simulator) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Run emits until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	t := time.NewTimer(s.Interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ev := s.Next()
			if !s.debug.Apply(ev) {
				s.log.Debug("simulated changeset dropped, no listener", zap.String("id", string(ev.ID)))
			}
			t.Reset(s.Interval())
		}
	}
}

// Next builds the next synthetic event. Even sequence numbers are sync.
func (s *Simulator) Next() sections.ChangesetEvent {
	n := s.seq.Add(1)
	root := sdk.NewObject().
		Put("identifier", "root").
		Put("name", "RootSection").
		Put("parent", nil).
		Put("isDirty", n%3 == 0).
		Put("isReused", n%3 != 0)
	child := sdk.NewObject().
		Put("identifier", "root/list").
		Put("name", "ListSection").
		Put("parent", "root").
		Put("isDirty", true).
		Put("isReused", false)

	return sections.ChangesetEvent{
		Name:      "simulated",
		IsAsync:   n%2 == 1,
		SurfaceID: s.surface,
		ID:        sections.GenerationID(uuid.NewString()),
		Tree:      sdk.Array{root, child},
		ChangesetData: sdk.NewObject().
			Put("section_key", "root/list").
			Put("seq", n).
			Put("inserted", n%4),
	}
}
