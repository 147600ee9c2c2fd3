package reader

import (
	"net/http"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/requestinfo"
	"github.com/yanizio/piliskor/internal/run"
)

// Permission component and action for runs read on behalf of someone else.
const (
	RunComponent     = "piliskor_run"
	ActionAdminister = "administer"
)

// PermissionComponent is the ACL component guarding plugin id.
func PermissionComponent(id string) string { return Namespace + "." + id }

// CanRead is the Access rule shared by the bundled plugins.
func CanRead(id, action string, acct auth.Account) bool {
	return action == ActionRead && !acct.IsAnonymous() && acct.Can(PermissionComponent(id), ActionRead)
}

// Rejection returns the user-facing reason acct may not add a read to rn,
// or "" when the read may proceed.
func Rejection(rn *run.Run, acct auth.Account) string {
	switch {
	case rn.State == run.StateFinished:
		return "This run is already finished."
	case rn.RunnerID != acct.ID && !acct.Can(RunComponent, ActionAdminister):
		return "You can only record reads for your own run."
	}
	return ""
}

// Stamp copies the client address and device class onto rd.
func Stamp(rd *run.Read, req *http.Request) {
	if req == nil {
		return
	}
	info := requestinfo.FromContext(req.Context())
	rd.ClientIP = info.ClientIP()
	rd.Device = info.DeviceClass()
}
