package reader

import (
	"context"
	"net/http"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/run"
)

// ActionRead is the only action read plugins are asked about today.
const ActionRead = "read"

// Handler is implemented by every read plugin.
//
// Access must be a pure predicate.  It runs on every permission check and
// never takes the read lock.  CreateResponse runs inside the lock and may
// write.
type Handler interface {
	Access(action string, acct auth.Account) bool
	CreateResponse(ctx context.Context, rn *run.Run, acct auth.Account,
		req *http.Request, route RouteContext) (*Response, error)
}

// Outcome summarises what a read attempt did.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"  // a new read row was written
	OutcomeDuplicate Outcome = "duplicate" // the checkpoint was already read
	OutcomeRejected  Outcome = "rejected"  // nothing written, see Message
)

// Response is what a plugin returns to the runner's browser.
type Response struct {
	Outcome    Outcome         `json:"outcome"`
	Message    string          `json:"message"`
	Read       *run.Read       `json:"read,omitempty"`
	Checkpoint *run.Checkpoint `json:"checkpoint,omitempty"`
	RunState   run.State       `json:"run_state"`
}
