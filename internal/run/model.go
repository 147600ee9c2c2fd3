// internal/run/model.go
//
// Row models for runs, course checkpoints, and checkpoint reads.
//
// Schema reference
//
//	CREATE TABLE run (
//	    id            BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
//	    order_item_id BIGINT UNSIGNED NOT NULL UNIQUE,
//	    runner_id     BIGINT UNSIGNED NOT NULL,
//	    course_id     BIGINT UNSIGNED NOT NULL,
//	    state         VARCHAR(16)     NOT NULL DEFAULT 'pending',
//	    started_at    TIMESTAMP NULL,
//	    finished_at   TIMESTAMP NULL
//	);
//
//	CREATE TABLE checkpoint (
//	    id        BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
//	    course_id BIGINT UNSIGNED NOT NULL,
//	    code      VARCHAR(64)     NOT NULL,
//	    name      VARCHAR(128)    NOT NULL,
//	    lat       DOUBLE          NOT NULL,
//	    lng       DOUBLE          NOT NULL,
//	    radius_m  DOUBLE          NOT NULL DEFAULT 30,
//	    sequence  INT             NOT NULL,
//	    UNIQUE KEY (course_id, code)
//	);
//
//	CREATE TABLE run_read (
//	    id            BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
//	    run_id        BIGINT UNSIGNED NOT NULL,
//	    checkpoint_id BIGINT UNSIGNED NOT NULL,
//	    plugin        VARCHAR(32)     NOT NULL,
//	    lat           DOUBLE NULL,
//	    lng           DOUBLE NULL,
//	    client_ip     VARCHAR(45)     NOT NULL DEFAULT '',
//	    device        VARCHAR(16)     NOT NULL DEFAULT '',
//	    created_at    TIMESTAMP       NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    KEY (run_id, created_at)
//	);
package run

import "time"

// State is the run life-cycle.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// Run is one entry (an order line item) being run by one runner.
type Run struct {
	ID          int64      `db:"id"            json:"id"`
	OrderItemID int64      `db:"order_item_id" json:"order_item_id"`
	RunnerID    int64      `db:"runner_id"     json:"runner_id"`
	CourseID    int64      `db:"course_id"     json:"course_id"`
	State       State      `db:"state"         json:"state"`
	StartedAt   *time.Time `db:"started_at"    json:"started_at,omitempty"`
	FinishedAt  *time.Time `db:"finished_at"   json:"finished_at,omitempty"`
}

// Checkpoint is a control point on a course.
type Checkpoint struct {
	ID       int64   `db:"id"        json:"id"`
	CourseID int64   `db:"course_id" json:"course_id"`
	Code     string  `db:"code"      json:"code"`
	Name     string  `db:"name"      json:"name"`
	Lat      float64 `db:"lat"       json:"lat"`
	Lng      float64 `db:"lng"       json:"lng"`
	RadiusM  float64 `db:"radius_m"  json:"radius_m"`
	Sequence int     `db:"sequence"  json:"sequence"`
}

// Read records that a run passed a checkpoint.
type Read struct {
	ID           int64     `db:"id"            json:"id"`
	RunID        int64     `db:"run_id"        json:"run_id"`
	CheckpointID int64     `db:"checkpoint_id" json:"checkpoint_id"`
	Plugin       string    `db:"plugin"        json:"plugin"`
	Lat          *float64  `db:"lat"           json:"lat,omitempty"`
	Lng          *float64  `db:"lng"           json:"lng,omitempty"`
	ClientIP     string    `db:"client_ip"     json:"-"`
	Device       string    `db:"device"        json:"device,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}

// Schema returns the DDL above as executable statements.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS run (
    id            BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
    order_item_id BIGINT UNSIGNED NOT NULL UNIQUE,
    runner_id     BIGINT UNSIGNED NOT NULL,
    course_id     BIGINT UNSIGNED NOT NULL,
    state         VARCHAR(16)     NOT NULL DEFAULT 'pending',
    started_at    TIMESTAMP NULL,
    finished_at   TIMESTAMP NULL
)`,
		`CREATE TABLE IF NOT EXISTS checkpoint (
    id        BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
    course_id BIGINT UNSIGNED NOT NULL,
    code      VARCHAR(64)     NOT NULL,
    name      VARCHAR(128)    NOT NULL,
    lat       DOUBLE          NOT NULL,
    lng       DOUBLE          NOT NULL,
    radius_m  DOUBLE          NOT NULL DEFAULT 30,
    sequence  INT             NOT NULL,
    UNIQUE KEY (course_id, code)
)`,
		`CREATE TABLE IF NOT EXISTS run_read (
    id            BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
    run_id        BIGINT UNSIGNED NOT NULL,
    checkpoint_id BIGINT UNSIGNED NOT NULL,
    plugin        VARCHAR(32)     NOT NULL,
    lat           DOUBLE NULL,
    lng           DOUBLE NULL,
    client_ip     VARCHAR(45)     NOT NULL DEFAULT '',
    device        VARCHAR(16)     NOT NULL DEFAULT '',
    created_at    TIMESTAMP       NOT NULL DEFAULT CURRENT_TIMESTAMP,
    KEY (run_id, created_at)
)`,
	}
}
