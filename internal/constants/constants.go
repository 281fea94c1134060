package constants

import "time"

const (
	ExternalAPITimeout = 20 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
	AdminTimeout       = 10 * time.Minute
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

// backoff minutes per classified provider error
const (
	RateLimitBreakMinutes   = 6
	NotFoundBreakMinutes    = 2
	HistoryRetryBreakMinute = 5
)

const (
	FetchAttemptsWithToken = 3
	FetchAttemptsLocal     = 1
	GameLogsLimit          = 10
	LabelMaxLength         = 99
	MostPlayWithLimit      = 50
	MostPlayWithMinCount   = 2
	LoadoutLimit           = 50
	StaleLogWindow         = 60 * time.Second
	BasicLoadBatch         = 1000
	LoadProgressStep       = 500
	RecentMatchesLimit     = 20
)

// shared store keys
const (
	KeyTaskQueues   = "task_queues"
	KeyStatus       = "tracker:status"
	KeyLogsCache    = "tracker:logs_cache"
	KeyAutoUpdateAt = "tracker:auto_update_at"
	PrefixPlayer    = "player:uno_"
	PrefixGroup     = "group:uno_"
	PrefixMatches   = "matches:"
)
