package monitor

import "github.com/rs/zerolog"

// Notice carries the details of a user-facing enforcement message.
type Notice struct {
	PackageName      string
	AppName          string
	UsedMinutes      int
	LimitMinutes     int
	RemainingMinutes int
}

// Presenter delivers enforcement side effects to the user. Implementations
// must be fast and non-blocking; the dispatcher calls them from the
// evaluation path.
type Presenter interface {
	// ShowBlocked tells the user the app's daily limit is used up.
	ShowBlocked(notice Notice)
	// ShowWarning tells the user how many minutes remain.
	ShowWarning(notice Notice)
	// PromptPermission asks the user to restore event source access,
	// typically after the usage permission was revoked.
	PromptPermission(reason string)
}

// LogPresenter writes notices to the structured log. It is the default
// presenter for headless deployments where a desktop notifier is wired in
// externally by tailing the log.
type LogPresenter struct {
	logger zerolog.Logger
}

// NewLogPresenter creates a presenter that logs every notice.
func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{logger: logger.With().Str("component", "presenter").Logger()}
}

// ShowBlocked logs a block notice.
func (p *LogPresenter) ShowBlocked(notice Notice) {
	p.logger.Warn().
		Str("package", notice.PackageName).
		Str("app", notice.AppName).
		Int("used_minutes", notice.UsedMinutes).
		Int("limit_minutes", notice.LimitMinutes).
		Msg("App blocked, daily limit reached")
}

// ShowWarning logs a low-time warning.
func (p *LogPresenter) ShowWarning(notice Notice) {
	p.logger.Warn().
		Str("package", notice.PackageName).
		Str("app", notice.AppName).
		Int("remaining_minutes", notice.RemainingMinutes).
		Int("limit_minutes", notice.LimitMinutes).
		Msg("App approaching daily limit")
}

// PromptPermission logs a request to restore event source access.
func (p *LogPresenter) PromptPermission(reason string) {
	p.logger.Error().
		Str("reason", reason).
		Msg("Usage event source unavailable, check usage access permission")
}
