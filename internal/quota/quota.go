// Package quota gates the pipeline: daily download counters, duration
// ceilings, paid-tier bypass, and idempotent outcome accounting.
package quota

import (
	"fmt"
	"time"

	"github.com/Data-Corruption/lmdb-go/lmdb"
	"github.com/Data-Corruption/lmdb-go/wrap"

	"grabbit/internal/platform/database"
)

// DenyKind is the user-visible category of an admission denial.
type DenyKind string

const (
	DenyFeatureOff DenyKind = "feature-off"
	DenyDaily      DenyKind = "daily-quota"
	DenyDuration   DenyKind = "duration-ceiling"
)

// Verdict is the admission decision. Zero Kind means allowed.
type Verdict struct {
	Allowed bool
	Kind    DenyKind
	Detail  string
}

// AdmitRequest carries everything Admit needs. Policies are resolved once at
// job admission and passed in; Admit itself reads no shared state.
type AdmitRequest struct {
	User        *database.User
	AudioMode   bool
	DurationSec float64
	Limits      *database.GeneralLimits
	Audio       *database.AudioSettings
	Now         time.Time
}

// Admit evaluates the admission rules in order: feature toggle, paid bypass,
// daily count ceiling, duration ceiling. A ceiling of -1 is unbounded. Pure;
// calling it twice on the same state yields the same verdict.
func Admit(req AdmitRequest) Verdict {
	if req.AudioMode && !req.Audio.Enabled {
		return Verdict{Kind: DenyFeatureOff, Detail: "audio downloads are currently disabled"}
	}

	today := req.User.TodayCount(database.Day(req.Now))

	if req.User.Paid(req.Now) {
		return Verdict{Allowed: true}
	}

	if c := req.Limits.FreeDailyCountCeiling; c >= 0 && today >= c {
		return Verdict{Kind: DenyDaily, Detail: fmt.Sprintf("daily limit of %d downloads reached", c)}
	}

	ceilingMin := req.Limits.FreeDurationCeilingMinutes
	if req.AudioMode {
		ceilingMin = req.Audio.DurationCeilingMinutes
	}
	if ceilingMin >= 0 && req.DurationSec > float64(ceilingMin)*60 {
		return Verdict{Kind: DenyDuration, Detail: fmt.Sprintf("media exceeds the %d minute limit", ceilingMin)}
	}

	return Verdict{Allowed: true}
}

// Engine persists per-URL outcomes and the derived user aggregates.
type Engine struct {
	db *wrap.DB
}

func NewEngine(db *wrap.DB) *Engine { return &Engine{db: db} }

// Outcome is one URL's terminal result.
type Outcome struct {
	JobID    string
	URLIndex int
	Record   database.DownloadRecord
	Counted  bool // counts against the daily ledger (URL actually ran)
}

// RecordOutcome writes the download record and updates the owner's aggregates
// in a single transaction. Keyed by (job id, url index): a retried write for
// an already-recorded outcome is a no-op, so no double counting occurs.
func (e *Engine) RecordOutcome(o Outcome) error {
	return e.db.Update(func(txn *lmdb.Txn) error {
		dbis := e.db.GetDBis()
		dlDBI, ok := dbis[database.DownloadsDBIName]
		if !ok {
			return fmt.Errorf("DBI %q not found", database.DownloadsDBIName)
		}
		usersDBI, ok := dbis[database.UsersDBIName]
		if !ok {
			return fmt.Errorf("DBI %q not found", database.UsersDBIName)
		}

		key := database.DownloadKey(o.JobID, o.URLIndex)
		var existing database.DownloadRecord
		err := database.TxnGetAndUnmarshal(txn, dlDBI, key, &existing)
		if err == nil {
			return nil // already recorded
		}
		if !lmdb.IsNotFound(err) {
			return fmt.Errorf("read download record: %w", err)
		}

		if err := database.TxnMarshalAndPut(txn, dlDBI, key, o.Record); err != nil {
			return fmt.Errorf("write download record: %w", err)
		}

		uKey := []byte(o.Record.UserID.String())
		var user database.User
		if err := database.TxnGetAndUnmarshal(txn, usersDBI, uKey, &user); err != nil {
			if !lmdb.IsNotFound(err) {
				return fmt.Errorf("read user: %w", err)
			}
			user = database.DefaultUser()
		}
		applyOutcome(&user, o, string(key))
		if err := database.TxnMarshalAndPut(txn, usersDBI, uKey, user); err != nil {
			return fmt.Errorf("write user: %w", err)
		}
		return nil
	})
}

// applyOutcome folds one outcome into the user aggregate. The counted-jobs
// ring is a secondary guard so aggregates stay correct even if download
// records are later pruned.
func applyOutcome(user *database.User, o Outcome, key string) {
	for _, k := range user.CountedJobs {
		if k == key {
			return
		}
	}
	user.CountedJobs = append(user.CountedJobs, key)

	switch o.Record.Status {
	case "completed":
		user.SuccessCount++
	case "failed":
		user.FailureCount++
	}

	if !o.Counted {
		return
	}
	user.LifetimeDownloads++
	for i := range user.DailyUsage {
		if user.DailyUsage[i].Day == o.Record.Day {
			user.DailyUsage[i].Count++
			return
		}
	}
	user.DailyUsage = append(user.DailyUsage, database.DayCount{Day: o.Record.Day, Count: 1})
}
