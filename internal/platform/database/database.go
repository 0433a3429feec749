// Package database manages the LMDB wrapper for the service.
package database

import (
	"github.com/Data-Corruption/lmdb-go/wrap"
	"github.com/Data-Corruption/stdx/xlog"
)

/*
Database Layout:

Config
	"version" -> version string of database schema (not app version)
	"data" -> marshaled process Configuration struct
Users
	<discord user id> -> marshaled User struct
Settings
	"global_settings" -> marshaled GlobalSettings
	"logo_settings"   -> marshaled LogoSettings
	"general_limits"  -> marshaled GeneralLimits
	"audio_settings"  -> marshaled AudioSettings
Downloads
	<job id>:<url index> -> marshaled DownloadRecord
ErrorReports
	<report id> -> marshaled ErrorReport

*/

const (
	ConfigVersionKey = "version"
	ConfigDataKey    = "data"

	GlobalSettingsKey = "global_settings"
	LogoSettingsKey   = "logo_settings"
	GeneralLimitsKey  = "general_limits"
	AudioSettingsKey  = "audio_settings"

	// DBI Names
	ConfigDBIName       = "config"
	UsersDBIName        = "users"
	SettingsDBIName     = "settings"
	DownloadsDBIName    = "downloads"
	ErrorReportsDBIName = "error_reports"
	// Add more DBI names as needed and update the slice below to include them.
	// The lmdb wrapper hard codes the max number of named dbis to 128.
)

// Slice for easy initialization. If you add more DBIs you'll need to update this slice as well.
var DBINameList = []string{ConfigDBIName, UsersDBIName, SettingsDBIName, DownloadsDBIName, ErrorReportsDBIName}

func New(directory string, logger *xlog.Logger) (*wrap.DB, error) {
	// Initialize LMDB with the specified DBIs
	db, srClosed, err := wrap.New(directory, DBINameList)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	logger.Infof("LMDB initialized at %s", directory)
	if srClosed > 0 {
		logger.Warnf("LMDB had %d stale readers which were closed", srClosed)
	}

	// Perform migrations if needed
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
