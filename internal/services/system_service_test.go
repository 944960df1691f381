package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/brewline/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func checks(statuses map[string]string) map[string]domain.SystemHealthCheck {
	out := make(map[string]domain.SystemHealthCheck, len(statuses))
	for name, status := range statuses {
		out[name] = domain.SystemHealthCheck{Status: status}
	}
	return out
}

func TestSystemServiceHealthReportAddsBuildAndMode(t *testing.T) {
	opened := time.Date(2024, 3, 9, 6, 0, 0, 0, time.UTC)
	now := opened.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: checks(map[string]string{"postgres": domain.HealthStatusOK}),
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2.4.0", CommitSHA: "9f1c2e", Environment: "store-pilot", StartedAt: opened},
		StrictDeduction:  true,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.DeductionMode != DeductionModeStrict {
		t.Fatalf("unexpected status %s mode %s", report.Status, report.DeductionMode)
	}
	if report.Version != "2.4.0" || report.CommitSHA != "9f1c2e" || report.Environment != "store-pilot" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected uptime %s generated %s", report.Uptime, report.GeneratedAt)
	}
}

func TestSystemServiceReadiness(t *testing.T) {
	tests := []struct {
		name     string
		critical []string
		checks   map[string]string
		want     string
	}{
		{
			name:   "healthy",
			checks: map[string]string{"postgres": domain.HealthStatusOK, "redis": domain.HealthStatusOK},
			want:   domain.HealthStatusOK,
		},
		{
			name:   "optional dependency failing",
			checks: map[string]string{"postgres": domain.HealthStatusOK, "redis": domain.HealthStatusError},
			want:   domain.HealthStatusDegraded,
		},
		{
			name:   "database degraded",
			checks: map[string]string{"postgres": domain.HealthStatusDegraded, "redis": domain.HealthStatusOK},
			want:   domain.HealthStatusError,
		},
		{
			name:   "database missing from report",
			checks: map[string]string{"redis": domain.HealthStatusOK},
			want:   domain.HealthStatusError,
		},
		{
			name:     "inventory service is critical when configured",
			critical: []string{"postgres", "stock_service"},
			checks:   map[string]string{"postgres": domain.HealthStatusOK, "stock_service": domain.HealthStatusError},
			want:     domain.HealthStatusError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{
				// The repository's own roll-up does not know which dependencies are critical.
				Status: domain.HealthStatusOK,
				Checks: checks(tc.checks),
			}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Critical: tc.critical})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if report.DeductionMode != DeductionModeLenient {
				t.Fatalf("expected lenient mode by default, got %s", report.DeductionMode)
			}
		})
	}
}

func TestSystemServiceHealthReportPropagatesCollectError(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error when repository missing")
	}
}
