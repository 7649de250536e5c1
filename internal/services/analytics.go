package services

import (
	"context"
	"time"

	"github.com/jdauth/apiserver/internal/store"
	"github.com/jdauth/apiserver/types"
)

// growthDays is the length of the dashboard growth series.
const growthDays = 30

// AnalyticsStore defines the aggregate queries behind the dashboard.
type AnalyticsStore interface {
	Count(ctx context.Context, filters types.UserFilters) (int, error)
	CountCreatedSince(ctx context.Context, t time.Time) (int, error)
	CountCreatedBefore(ctx context.Context, t time.Time) (int, error)
	DailyRegistrations(ctx context.Context, since time.Time) ([]store.DailyRegistration, error)
}

// AnalyticsService computes dashboard statistics.
type AnalyticsService struct {
	repo AnalyticsStore

	now func() time.Time
}

// NewAnalyticsService constructs an AnalyticsService.
func NewAnalyticsService(repo AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{repo: repo, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *AnalyticsService) SetClock(now func() time.Time) {
	s.now = now
}

// DashboardStats returns the admin dashboard counters and the thirty-day
// growth series.
func (s *AnalyticsService) DashboardStats(ctx context.Context) (types.DashboardStats, error) {
	total, err := s.repo.Count(ctx, types.UserFilters{})
	if err != nil {
		return types.DashboardStats{}, err
	}

	active := true
	activeCount, err := s.repo.Count(ctx, types.UserFilters{IsActive: &active})
	if err != nil {
		return types.DashboardStats{}, err
	}

	adminCount, err := s.repo.Count(ctx, types.UserFilters{Role: types.RoleAdmin})
	if err != nil {
		return types.DashboardStats{}, err
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	registeredToday, err := s.repo.CountCreatedSince(ctx, today)
	if err != nil {
		return types.DashboardStats{}, err
	}
	registeredWeek, err := s.repo.CountCreatedSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return types.DashboardStats{}, err
	}
	registeredMonth, err := s.repo.CountCreatedSince(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return types.DashboardStats{}, err
	}

	growth, err := s.growthSeries(ctx, today)
	if err != nil {
		return types.DashboardStats{}, err
	}

	return types.DashboardStats{
		TotalUsers:    total,
		ActiveUsers:   activeCount,
		InactiveUsers: total - activeCount,
		AdminUsers:    adminCount,
		RecentRegistrations: types.RecentRegistrations{
			Today:     registeredToday,
			ThisWeek:  registeredWeek,
			ThisMonth: registeredMonth,
		},
		UserGrowth: growth,
	}, nil
}

// growthSeries builds one point per day over the trailing window, each
// carrying that day's registrations and the running total up to that day.
func (s *AnalyticsService) growthSeries(ctx context.Context, today time.Time) ([]types.GrowthPoint, error) {
	start := today.AddDate(0, 0, -(growthDays - 1))

	baseline, err := s.repo.CountCreatedBefore(ctx, start)
	if err != nil {
		return nil, err
	}

	daily, err := s.repo.DailyRegistrations(ctx, start)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]int, len(daily))
	for _, d := range daily {
		byDate[d.Date] = d.Count
	}

	points := make([]types.GrowthPoint, 0, growthDays)
	running := baseline
	for day := start; !day.After(today); day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		running += byDate[date]
		points = append(points, types.GrowthPoint{
			Date:       date,
			TotalUsers: running,
			NewUsers:   byDate[date],
		})
	}
	return points, nil
}
