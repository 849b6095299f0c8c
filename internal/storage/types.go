package storage

// AppLimit is the persisted limit row for one monitored package.
//
// UsedTodayMinutes and Blocked mirror the latest computed usage as of the
// last evaluation; true usage is recomputed from the event source on every
// cycle. LastResetDate is the local calendar date ("2006-01-02") of the last
// daily reset.
type AppLimit struct {
	PackageName      string `json:"package_name"`
	AppName          string `json:"app_name"`
	LimitMinutes     int    `json:"limit_minutes"`
	Enabled          bool   `json:"enabled"`
	UsedTodayMinutes int    `json:"used_today_minutes"`
	LastResetDate    string `json:"last_reset_date"`
	Blocked          bool   `json:"blocked"`
}

// UsageSession is one append-only historical usage record. StartTime and
// EndTime are epoch milliseconds; Date is the local calendar date the
// session belongs to. Sessions are never mutated after creation and are
// pruned by the retention job.
type UsageSession struct {
	ID              string `json:"id"`
	PackageName     string `json:"package_name"`
	Date            string `json:"date"`
	StartTime       int64  `json:"start_time"`
	EndTime         int64  `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// DailyProgress aggregates total screen time per local calendar date.
type DailyProgress struct {
	Date              string `json:"date"`
	ScreenTimeMinutes int    `json:"screen_time_minutes"`
}
