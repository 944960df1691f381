package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/repositories"
)

const (
	// DeductionModeStrict blocks completion when a stock adjustment fails.
	DeductionModeStrict = "strict"
	// DeductionModeLenient completes the order and marks its deduction FAILED.
	DeductionModeLenient = "lenient"
)

// DefaultCriticalDependencies are required to take, pay and complete orders.
var DefaultCriticalDependencies = []string{"postgres"}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo

	// Critical names the dependencies whose failure stops order intake. Any other failing check only
	// degrades the report: the recipe cache falls back to postgres and events are best effort.
	Critical        []string
	StrictDeduction bool
}

type systemService struct {
	healthRepo    repositories.HealthRepository
	clock         func() time.Time
	build         BuildInfo
	critical      map[string]struct{}
	deductionMode string
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service backing liveness and readiness reports.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	names := deps.Critical
	if len(names) == 0 {
		names = DefaultCriticalDependencies
	}
	critical := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			critical[name] = struct{}{}
		}
	}

	mode := DeductionModeLenient
	if deps.StrictDeduction {
		mode = DeductionModeStrict
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock: func() time.Time {
			return clock().UTC()
		},
		build:         build,
		critical:      critical,
		deductionMode: mode,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = firstNonBlank(report.Version, s.build.Version)
	report.CommitSHA = firstNonBlank(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonBlank(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	report.DeductionMode = s.deductionMode
	report.Status = s.readiness(report.Checks)
	return report, nil
}

// readiness is error when a critical dependency fails or is missing from the report, and degraded
// when only optional ones fail.
func (s *systemService) readiness(checks map[string]domain.SystemHealthCheck) string {
	for name := range s.critical {
		check, ok := checks[name]
		if !ok || (check.Status != domain.HealthStatusOK && check.Status != "") {
			return domain.HealthStatusError
		}
	}
	status := domain.HealthStatusOK
	for _, check := range checks {
		if check.Status != domain.HealthStatusOK && check.Status != "" {
			status = domain.HealthStatusDegraded
		}
	}
	return status
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
