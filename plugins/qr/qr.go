// plugins/qr/qr.go
//
// QR read plugin.
//
// Context
// -------
// Each checkpoint carries a printed QR code.  Scanning it posts the code to
// `/run/{run}/read/qr`; the plugin resolves the code within the run's course
// and records one read per checkpoint.  A second scan of the same checkpoint
// reports "already read" and writes nothing.
//
// Notes
// -----
// • The body may be JSON (`{"code": "..."}`) or a form/query `code` field.
// • CreateResponse runs inside the read lock, so the duplicate check and
//   the insert cannot interleave with another read.

package qr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/reader"
	"github.com/yanizio/piliskor/internal/run"
)

// ID is the plugin id used in route names.
const ID = "qr"

func init() { reader.Register(ID, New) }

type payload struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Plugin implements reader.Handler.
type Plugin struct {
	deps reader.Deps
}

// New is the reader.Factory for the QR plugin.
func New(d reader.Deps) reader.Handler { return &Plugin{deps: d} }

// Access requires the piliskor_qr.qr/read permission.
func (p *Plugin) Access(action string, acct auth.Account) bool {
	return reader.CanRead(ID, action, acct)
}

// CreateResponse records the scanned checkpoint.
func (p *Plugin) CreateResponse(ctx context.Context, rn *run.Run, acct auth.Account,
	req *http.Request, _ reader.RouteContext) (*reader.Response, error) {

	in, err := decode(req)
	if err == nil {
		err = p.deps.Validate.Struct(in)
	}
	if err != nil {
		return &reader.Response{Outcome: reader.OutcomeRejected, Message: "Missing or invalid QR code.", RunState: rn.State}, nil
	}

	// Reload inside the lock; the caller's copy may predate another read.
	cur, err := p.deps.Runs.RunByID(ctx, rn.ID)
	if err != nil {
		return nil, fmt.Errorf("qr: load run %d: %w", rn.ID, err)
	}
	if msg := reader.Rejection(cur, acct); msg != "" {
		return &reader.Response{Outcome: reader.OutcomeRejected, Message: msg, RunState: cur.State}, nil
	}

	cp, err := p.deps.Runs.CheckpointByCode(ctx, cur.CourseID, in.Code)
	if errors.Is(err, run.ErrNotFound) {
		return &reader.Response{Outcome: reader.OutcomeRejected, Message: "This code does not belong to your course.", RunState: cur.State}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qr: checkpoint %q: %w", in.Code, err)
	}

	reads, err := p.deps.Runs.ReadsByRun(ctx, cur.ID)
	if err != nil {
		return nil, fmt.Errorf("qr: reads of run %d: %w", cur.ID, err)
	}
	for i := range reads {
		if reads[i].CheckpointID == cp.ID {
			return &reader.Response{
				Outcome:    reader.OutcomeDuplicate,
				Message:    fmt.Sprintf("Checkpoint %s already read.", cp.Name),
				Read:       &reads[i],
				Checkpoint: cp,
				RunState:   cur.State,
			}, nil
		}
	}

	course, err := p.deps.Runs.CheckpointsByCourse(ctx, cur.CourseID)
	if err != nil {
		return nil, fmt.Errorf("qr: course %d: %w", cur.CourseID, err)
	}
	next := run.NextState(cur.State, *cp, course, reads)

	rd := &run.Read{
		RunID:        cur.ID,
		CheckpointID: cp.ID,
		Plugin:       ID,
		CreatedAt:    p.deps.Now().UTC(),
	}
	reader.Stamp(rd, req)
	if err := p.deps.Runs.RecordRead(ctx, rd, next); err != nil {
		return nil, fmt.Errorf("qr: record read: %w", err)
	}

	return &reader.Response{
		Outcome:    reader.OutcomeRecorded,
		Message:    fmt.Sprintf("Checkpoint %s read.", cp.Name),
		Read:       rd,
		Checkpoint: cp,
		RunState:   next,
	}, nil
}

func decode(req *http.Request) (payload, error) {
	var in payload
	if req == nil {
		return in, errors.New("qr: no request")
	}
	ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(http.MaxBytesReader(nil, req.Body, 4<<10)).Decode(&in)
		return in, err
	}
	in.Code = req.FormValue("code")
	return in, nil
}
