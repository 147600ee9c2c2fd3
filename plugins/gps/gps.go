// plugins/gps/gps.go
//
// GPS read plugin.
//
// Context
// -------
// The runner presses "I'm here" and the browser posts its position.  The
// plugin matches the fix against every checkpoint of the run's course and
// records a read at the nearest checkpoint whose radius contains the fix.
// Pressing the button twice at the same checkpoint is answered with
// "already read" and writes nothing.  Only consecutive repeats are
// suppressed, so loop courses may pass a checkpoint again later.
//
// Notes
// -----
// • Body: `{"lat": 47.49, "lng": 19.04, "accuracy": 12}`, validated with
//   validator tags.  Accuracy is optional, in metres.
// • Fixes less precise than MaxAccuracy are rejected.
// • Distances use the haversine formula on a spherical Earth.

package gps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/reader"
	"github.com/yanizio/piliskor/internal/run"
)

// ID is the plugin id used in route names.
const ID = "gps"

// MaxAccuracy is the worst reported accuracy, in metres, still accepted.
const MaxAccuracy = 100.0

const earthRadiusM = 6371008.8

func init() { reader.Register(ID, New) }

type payload struct {
	Lat      *float64 `json:"lat"      validate:"required,latitude"`
	Lng      *float64 `json:"lng"      validate:"required,longitude"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,gte=0"`
}

// Plugin implements reader.Handler.
type Plugin struct {
	deps reader.Deps
}

// New is the reader.Factory for the GPS plugin.
func New(d reader.Deps) reader.Handler { return &Plugin{deps: d} }

// Access requires the piliskor_qr.gps/read permission.
func (p *Plugin) Access(action string, acct auth.Account) bool {
	return reader.CanRead(ID, action, acct)
}

// CreateResponse records a read at the checkpoint the runner stands at.
func (p *Plugin) CreateResponse(ctx context.Context, rn *run.Run, acct auth.Account,
	req *http.Request, _ reader.RouteContext) (*reader.Response, error) {

	var in payload
	err := errors.New("gps: no request")
	if req != nil && req.Body != nil {
		err = json.NewDecoder(http.MaxBytesReader(nil, req.Body, 4<<10)).Decode(&in)
	}
	if err == nil {
		err = p.deps.Validate.Struct(in)
	}
	if err != nil {
		return reject(rn.State, "Your position could not be read."), nil
	}
	if in.Accuracy != nil && *in.Accuracy > MaxAccuracy {
		return reject(rn.State, fmt.Sprintf("GPS fix too imprecise (%.0f m).  Try again in the open.", *in.Accuracy)), nil
	}

	cur, err := p.deps.Runs.RunByID(ctx, rn.ID)
	if err != nil {
		return nil, fmt.Errorf("gps: load run %d: %w", rn.ID, err)
	}
	if msg := reader.Rejection(cur, acct); msg != "" {
		return reject(cur.State, msg), nil
	}

	course, err := p.deps.Runs.CheckpointsByCourse(ctx, cur.CourseID)
	if err != nil {
		return nil, fmt.Errorf("gps: course %d: %w", cur.CourseID, err)
	}
	cp, dist := Nearest(course, *in.Lat, *in.Lng)
	if cp == nil {
		return reject(cur.State, "This course has no checkpoints."), nil
	}
	if dist > cp.RadiusM {
		return reject(cur.State, fmt.Sprintf("No checkpoint here.  Nearest is %s, %.0f m away.", cp.Name, dist)), nil
	}

	last, err := p.deps.Runs.LastRead(ctx, cur.ID)
	switch {
	case err == nil && last.CheckpointID == cp.ID:
		return &reader.Response{
			Outcome:    reader.OutcomeDuplicate,
			Message:    fmt.Sprintf("Checkpoint %s already read.", cp.Name),
			Read:       last,
			Checkpoint: cp,
			RunState:   cur.State,
		}, nil
	case err != nil && !errors.Is(err, run.ErrNotFound):
		return nil, fmt.Errorf("gps: last read of run %d: %w", cur.ID, err)
	}

	reads, err := p.deps.Runs.ReadsByRun(ctx, cur.ID)
	if err != nil {
		return nil, fmt.Errorf("gps: reads of run %d: %w", cur.ID, err)
	}
	next := run.NextState(cur.State, *cp, course, reads)
	rd := &run.Read{
		RunID:        cur.ID,
		CheckpointID: cp.ID,
		Plugin:       ID,
		Lat:          in.Lat,
		Lng:          in.Lng,
		CreatedAt:    p.deps.Now().UTC(),
	}
	reader.Stamp(rd, req)
	if err := p.deps.Runs.RecordRead(ctx, rd, next); err != nil {
		return nil, fmt.Errorf("gps: record read: %w", err)
	}

	return &reader.Response{
		Outcome:    reader.OutcomeRecorded,
		Message:    fmt.Sprintf("Checkpoint %s read.", cp.Name),
		Read:       rd,
		Checkpoint: cp,
		RunState:   next,
	}, nil
}

// Nearest returns the checkpoint closest to (lat, lng) and its distance in
// metres.  It returns nil for an empty course.
func Nearest(course []run.Checkpoint, lat, lng float64) (*run.Checkpoint, float64) {
	var (
		best     *run.Checkpoint
		bestDist = math.Inf(1)
	)
	for i := range course {
		if d := Distance(lat, lng, course[i].Lat, course[i].Lng); d < bestDist {
			best, bestDist = &course[i], d
		}
	}
	return best, bestDist
}

// Distance is the great-circle distance in metres.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(a)))
}

func reject(state run.State, msg string) *reader.Response {
	return &reader.Response{Outcome: reader.OutcomeRejected, Message: msg, RunState: state}
}
