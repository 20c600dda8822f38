package models

import "time"

const (
	UsageCategoryQuestions = "questions"
	UsageCategoryQuizzes   = "quizzes"
)

const (
	UsagePeriodDaily   = "daily"
	UsagePeriodMonthly = "monthly"
	UsagePeriodYearly  = "yearly"
)

// UsageRecord accumulates consumption for one user, category and fixed period.
type UsageRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;index:ux_usage_records_bucket,unique,priority:1" json:"user_id"`
	Category    string    `gorm:"type:varchar(32);not null;index:ux_usage_records_bucket,unique,priority:2" json:"category"`
	Period      string    `gorm:"type:varchar(16);not null;index:ux_usage_records_bucket,unique,priority:3" json:"period"`
	PeriodStart time.Time `gorm:"type:timestamp;not null;index:ux_usage_records_bucket,unique,priority:4" json:"period_start"`
	Count       int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodStart returns the fixed bucket start containing t, in UTC.
func PeriodStart(t time.Time, period string) time.Time {
	t = t.UTC()
	switch period {
	case UsagePeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case UsagePeriodYearly:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// PeriodReset returns when the bucket containing t rolls over.
func PeriodReset(t time.Time, period string) time.Time {
	start := PeriodStart(t, period)
	switch period {
	case UsagePeriodMonthly:
		return start.AddDate(0, 1, 0)
	case UsagePeriodYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
