package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Data-Corruption/lmdb-go/lmdb"
	"github.com/Data-Corruption/lmdb-go/wrap"
	"github.com/disgoorg/snowflake/v2"
)

// DayFormat is the calendar-day layout used across usage ledgers and
// download records.
const DayFormat = "2006-01-02"

// Day formats t as a calendar day in the service clock.
func Day(t time.Time) string { return t.Format(DayFormat) }

// TxnMarshalAndPut marshals the provided value and stores it in the database under the given key.
func TxnMarshalAndPut(txn *lmdb.Txn, dbi lmdb.DBI, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := txn.Put(dbi, key, data, 0); err != nil {
		return err
	}
	return nil
}

// TxnGetAndUnmarshal retrieves a value from the database and unmarshals it into the provided value pointer.
// lmdb.IsNotFound(err) will be true if the key was not found in the database.
func TxnGetAndUnmarshal(txn *lmdb.Txn, dbi lmdb.DBI, key []byte, value any) error {
	buf, err := txn.Get(dbi, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(buf, value); err != nil {
		return err
	}
	return nil
}

// --- Generic Helpers ---

// View retrieves a copy of a value from the database.
// lmdb.IsNotFound(err) will be true if the key was not found.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func View[T any](db *wrap.DB, dbiName string, key []byte) (*T, error) {
	data, err := db.Read(dbiName, key)
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// Upsert updates a value in the database using the provided update function,
// creating it with defaultFn if it does not exist.
// Returns true if the value was created.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func Upsert[T any](db *wrap.DB, dbiName string, key []byte, defaultFn func() T, updateFn func(*T) error) (bool, error) {
	created := false

	if err := db.Update(func(txn *lmdb.Txn) error {
		dbi, ok := db.GetDBis()[dbiName]
		if !ok {
			return fmt.Errorf("DBI %q not found", dbiName)
		}

		var value T
		err := TxnGetAndUnmarshal(txn, dbi, key, &value)
		if err != nil {
			if !lmdb.IsNotFound(err) {
				return fmt.Errorf("failed to get value: %w", err)
			}
			created = true
			value = defaultFn()
		}

		if err := updateFn(&value); err != nil {
			return fmt.Errorf("update function failed: %w", err)
		}

		if err := TxnMarshalAndPut(txn, dbi, key, value); err != nil {
			return fmt.Errorf("failed to update value: %w", err)
		}

		return nil
	}); err != nil {
		return false, err
	}

	return created, nil
}

// ForEachAction specifies what to do with an entry after the callback.
type ForEachAction int

const (
	Keep   ForEachAction = iota // no changes to entry
	Update                      // re-marshal and store entry
	Delete                      // remove entry
)

// ForEach iterates over all entries in a DBI, applying the callback to each.
// The callback receives the key and a pointer to the unmarshaled value.
// Return (Keep, nil) to leave unchanged, (Update, nil) to save changes, (Delete, nil) to remove.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func ForEach[T any](db *wrap.DB, dbiName string, callback func(key []byte, value *T) (ForEachAction, error)) error {
	return db.Update(func(txn *lmdb.Txn) error {
		dbi, ok := db.GetDBis()[dbiName]
		if !ok {
			return fmt.Errorf("DBI %q not found", dbiName)
		}

		cursor, err := txn.OpenCursor(dbi)
		if err != nil {
			return fmt.Errorf("failed to create cursor: %w", err)
		}
		defer cursor.Close()

		for {
			k, v, err := cursor.Get(nil, nil, lmdb.Next)
			if lmdb.IsNotFound(err) {
				break // no more entries
			}
			if err != nil {
				return fmt.Errorf("failed to get next entry: %w", err)
			}

			var value T
			if err := json.Unmarshal(v, &value); err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}

			action, err := callback(k, &value)
			if err != nil {
				return fmt.Errorf("callback failed: %w", err)
			}

			switch action {
			case Update:
				if err := TxnMarshalAndPut(txn, dbi, k, value); err != nil {
					return fmt.Errorf("failed to update entry: %w", err)
				}
			case Delete:
				if err := cursor.Del(0); err != nil {
					return fmt.Errorf("failed to delete entry: %w", err)
				}
			}
		}
		return nil
	})
}

// --- Type-Specific Wrappers ---

// ViewConfig retrieves a copy of the current configuration from the database.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func ViewConfig(db *wrap.DB) (*Configuration, error) {
	return View[Configuration](db, ConfigDBIName, []byte(ConfigDataKey))
}

func defaultConfig() Configuration {
	return Configuration{
		LogLevel:             "WARN",
		MaxURLsPerMessage:    6,
		DeliveryCeilingBytes: 50 << 20,
		TranscodeWorkers:     4,
		ProbeTimeoutSec:      30,
		ReferralCreditBundle: 10,
	}
}

// UpdateConfig updates the configuration in the database using the provided update function.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func UpdateConfig(db *wrap.DB, updateFunc func(cfg *Configuration) error) error {
	_, err := Upsert(db, ConfigDBIName, []byte(ConfigDataKey), defaultConfig, updateFunc)
	return err
}

// ViewUser retrieves a copy of the given user from the database.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func ViewUser(db *wrap.DB, userID snowflake.ID) (*User, error) {
	if userID == 0 {
		return nil, fmt.Errorf("invalid user ID")
	}
	return View[User](db, UsersDBIName, []byte(userID.String()))
}

// DefaultUser returns a User with default settings.
func DefaultUser() User {
	return User{Language: "en"}
}

// UpsertUser updates the given user in the database using the provided
// update function, creating the user if they do not already exist.
// It returns a boolean indicating whether the user was created.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func UpsertUser(db *wrap.DB, userID snowflake.ID, updateFunc func(user *User) error) (bool, error) {
	if userID == 0 {
		return false, fmt.Errorf("invalid user ID")
	}
	return Upsert(db, UsersDBIName, []byte(userID.String()), DefaultUser, updateFunc)
}

// --- Settings singletons ---

func defaultGlobalSettings() GlobalSettings {
	return GlobalSettings{PaidTierOffered: true}
}

func defaultLogoSettings() LogoSettings {
	return LogoSettings{
		Enabled:        false,
		Animation:      "static",
		Position:       "bottom_right",
		SizePx:         120,
		OpacityPercent: 70,
		TargetAudience: "free",
	}
}

func defaultGeneralLimits() GeneralLimits {
	return GeneralLimits{
		FreeDurationCeilingMinutes: 10,
		FreeDailyCountCeiling:      5,
	}
}

func defaultAudioSettings() AudioSettings {
	return AudioSettings{Enabled: true, DurationCeilingMinutes: 60}
}

// viewSetting reads a settings singleton, returning the default when absent.
func viewSetting[T any](db *wrap.DB, key string, defaultFn func() T) (*T, error) {
	v, err := View[T](db, SettingsDBIName, []byte(key))
	if err != nil {
		if lmdb.IsNotFound(err) {
			def := defaultFn()
			return &def, nil
		}
		return nil, err
	}
	return v, nil
}

func ViewGlobalSettings(db *wrap.DB) (*GlobalSettings, error) {
	return viewSetting(db, GlobalSettingsKey, defaultGlobalSettings)
}

func UpdateGlobalSettings(db *wrap.DB, fn func(*GlobalSettings) error) error {
	_, err := Upsert(db, SettingsDBIName, []byte(GlobalSettingsKey), defaultGlobalSettings, fn)
	return err
}

func ViewLogoSettings(db *wrap.DB) (*LogoSettings, error) {
	return viewSetting(db, LogoSettingsKey, defaultLogoSettings)
}

func UpdateLogoSettings(db *wrap.DB, fn func(*LogoSettings) error) error {
	_, err := Upsert(db, SettingsDBIName, []byte(LogoSettingsKey), defaultLogoSettings, fn)
	return err
}

func ViewGeneralLimits(db *wrap.DB) (*GeneralLimits, error) {
	return viewSetting(db, GeneralLimitsKey, defaultGeneralLimits)
}

func UpdateGeneralLimits(db *wrap.DB, fn func(*GeneralLimits) error) error {
	_, err := Upsert(db, SettingsDBIName, []byte(GeneralLimitsKey), defaultGeneralLimits, fn)
	return err
}

func ViewAudioSettings(db *wrap.DB) (*AudioSettings, error) {
	return viewSetting(db, AudioSettingsKey, defaultAudioSettings)
}

func UpdateAudioSettings(db *wrap.DB, fn func(*AudioSettings) error) error {
	_, err := Upsert(db, SettingsDBIName, []byte(AudioSettingsKey), defaultAudioSettings, fn)
	return err
}

// --- Download records ---

// DownloadKey builds the idempotent outcome key for one URL of a job.
func DownloadKey(jobID string, urlIndex int) []byte {
	return []byte(fmt.Sprintf("%s:%d", jobID, urlIndex))
}

// ViewDownload retrieves one download record.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func ViewDownload(db *wrap.DB, jobID string, urlIndex int) (*DownloadRecord, error) {
	return View[DownloadRecord](db, DownloadsDBIName, DownloadKey(jobID, urlIndex))
}

// CountDownloadsForDay counts download records for (user, day). Download
// records are the authoritative count; the user's daily_usage ledger is a
// derived aggregate.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func CountDownloadsForDay(db *wrap.DB, userID snowflake.ID, day string) (int, error) {
	count := 0
	err := ForEach(db, DownloadsDBIName, func(_ []byte, rec *DownloadRecord) (ForEachAction, error) {
		if rec.UserID == userID && rec.Day == day {
			count++
		}
		return Keep, nil
	})
	return count, err
}

// --- Error reports ---

// PutErrorReport stores a new error report under the given id.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func PutErrorReport(db *wrap.DB, id string, report ErrorReport) error {
	_, err := Upsert(db, ErrorReportsDBIName, []byte(id),
		func() ErrorReport { return report },
		func(r *ErrorReport) error { *r = report; return nil })
	return err
}

// ResolveErrorReport marks a report resolved. Missing reports are an error.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func ResolveErrorReport(db *wrap.DB, id string, now time.Time) error {
	report, err := View[ErrorReport](db, ErrorReportsDBIName, []byte(id))
	if err != nil {
		return err
	}
	report.Status = "resolved"
	report.ResolvedAt = &now
	_, err = Upsert(db, ErrorReportsDBIName, []byte(id),
		func() ErrorReport { return *report },
		func(r *ErrorReport) error { *r = *report; return nil })
	return err
}

// PruneDailyUsage drops usage ledger entries older than the given cutoff day
// for every user, and trims the counted-jobs ring.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func PruneDailyUsage(db *wrap.DB, cutoffDay string) error {
	return ForEach(db, UsersDBIName, func(_ []byte, user *User) (ForEachAction, error) {
		kept := user.DailyUsage[:0]
		for _, e := range user.DailyUsage {
			if e.Day >= cutoffDay {
				kept = append(kept, e)
			}
		}
		if len(kept) == len(user.DailyUsage) && len(user.CountedJobs) <= 64 {
			return Keep, nil
		}
		user.DailyUsage = kept
		if n := len(user.CountedJobs); n > 64 {
			user.CountedJobs = user.CountedJobs[n-64:]
		}
		return Update, nil
	})
}

// FindUserByReferralCode scans users for the owner of a referral code.
// Returns 0, false when no user carries it.
//
// WARNING: Starts a transaction. Avoid nesting transactions (deadlock risk).
func FindUserByReferralCode(db *wrap.DB, code string) (snowflake.ID, bool, error) {
	var found snowflake.ID
	err := ForEach(db, UsersDBIName, func(key []byte, user *User) (ForEachAction, error) {
		if found == 0 && user.ReferralCode == code {
			id, perr := snowflake.Parse(string(key))
			if perr != nil {
				return Keep, perr
			}
			found = id
		}
		return Keep, nil
	})
	return found, found != 0, err
}
