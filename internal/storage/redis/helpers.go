package redis

import (
	"fmt"
	"strconv"

	"github.com/zackwarn/screentimed/internal/storage"
)

// parseAppLimit converts a Redis hash to AppLimit
func parseAppLimit(data map[string]string) (*storage.AppLimit, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	limitMinutes, err := strconv.Atoi(data["limit_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse limit_minutes: %w", err)
	}

	usedMinutes, err := strconv.Atoi(data["used_today_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse used_today_minutes: %w", err)
	}

	enabled, err := strconv.ParseBool(data["enabled"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse enabled: %w", err)
	}

	blocked, err := strconv.ParseBool(data["blocked"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse blocked: %w", err)
	}

	return &storage.AppLimit{
		PackageName:      data["package_name"],
		AppName:          data["app_name"],
		LimitMinutes:     limitMinutes,
		Enabled:          enabled,
		UsedTodayMinutes: usedMinutes,
		LastResetDate:    data["last_reset_date"],
		Blocked:          blocked,
	}, nil
}

// parseUsageSession converts a Redis hash to UsageSession
func parseUsageSession(data map[string]string) (*storage.UsageSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startTime, err := strconv.ParseInt(data["start_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	endTime, err := strconv.ParseInt(data["end_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse end_time: %w", err)
	}

	duration, err := strconv.Atoi(data["duration_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_minutes: %w", err)
	}

	return &storage.UsageSession{
		ID:              data["id"],
		PackageName:     data["package_name"],
		Date:            data["date"],
		StartTime:       startTime,
		EndTime:         endTime,
		DurationMinutes: duration,
	}, nil
}

// parseDailyProgress converts a Redis hash to DailyProgress
func parseDailyProgress(data map[string]string) (*storage.DailyProgress, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	minutes, err := strconv.Atoi(data["screen_time_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse screen_time_minutes: %w", err)
	}

	return &storage.DailyProgress{
		Date:              data["date"],
		ScreenTimeMinutes: minutes,
	}, nil
}
