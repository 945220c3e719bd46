package config

const (
	defaultFeedDir          = "~/.local/share/skein/feeds"
	defaultLogDir           = "~/.local/share/skein/logs"
	defaultJournalPath      = "~/.local/share/skein/journal.db"
	defaultLogRetentionDays = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultWorkerMode       = WorkerModeExec
	defaultPollIntervalMS   = 100
	defaultReceiveTimeoutMS = 100
	defaultSyncAttempts     = 5
	defaultRateMinutes      = 10
	defaultKeep             = 40
	defaultJournalEnabled   = true
	defaultWorkerPersistent = true
)

// Worker launch modes.
const (
	WorkerModeExec      = "exec"
	WorkerModeInProcess = "inprocess"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			FeedDir:     defaultFeedDir,
			LogDir:      defaultLogDir,
			JournalPath: defaultJournalPath,
		},
		Worker: Worker{
			Mode:             defaultWorkerMode,
			PollIntervalMS:   defaultPollIntervalMS,
			ReceiveTimeoutMS: defaultReceiveTimeoutMS,
			Persistent:       defaultWorkerPersistent,
			SyncAttempts:     defaultSyncAttempts,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Defaults: Defaults{
			Rate: defaultRateMinutes,
			Keep: defaultKeep,
		},
		Journal: Journal{
			Enabled: defaultJournalEnabled,
		},
	}
}
