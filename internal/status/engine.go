package status

import (
	"math"
	"time"

	"github.com/rcastrodev/taxi-fleet/internal/models"
)

// Severity is a traffic-light level for a single metric or a whole vehicle.
type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// rank orders severities from best to worst.
func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityDanger:
		return 2
	default:
		return 0
	}
}

// Worst returns the worse of two severities.
func Worst(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Thresholds holds the fixed service intervals and certificate warning windows.
type Thresholds struct {
	KmInterval     int // km between oil changes
	DayInterval    int // days between oil changes
	AfocatWarnDays int // warning window before the AFOCAT certificate expires
	ReviewWarnDays int // warning window before the roadworthiness review expires
}

// DefaultThresholds returns the intervals the fleet operates on.
func DefaultThresholds() Thresholds {
	return Thresholds{
		KmInterval:     5000,
		DayInterval:    30,
		AfocatWarnDays: 30,
		ReviewWarnDays: 15,
	}
}

// CertStatus is the evaluation of one certificate expiration date.
type CertStatus struct {
	Severity      Severity `json:"severity"`
	DaysRemaining int      `json:"days_remaining"`
}

// Report is the full evaluation of a vehicle at a point in time.
type Report struct {
	KmDiff          int        `json:"km_diff"`
	KmProgress      float64    `json:"km_progress"`
	DaysDiff        int        `json:"days_diff"`
	TimeProgress    float64    `json:"time_progress"`
	Maintenance     Severity   `json:"maintenance"`
	Afocat          CertStatus `json:"afocat"`
	Review          CertStatus `json:"review"`
	Overall         Severity   `json:"overall"`
	MajorServiceDue bool       `json:"major_service_due"`
}

// Evaluate computes the maintenance and certificate statuses of a vehicle.
// It is pure: the same vehicle and the same now always produce the same
// report, and missing dates degrade to danger instead of erroring.
func Evaluate(v models.Vehicle, now time.Time, th Thresholds) Report {
	r := Report{}

	r.KmDiff = v.CurrentKm - v.LastServiceKm
	r.KmProgress = capProgress(float64(r.KmDiff) / float64(th.KmInterval) * 100)

	if v.LastServiceDate.IsZero() {
		// No recorded service; treat the time metric as fully elapsed.
		r.DaysDiff = th.DayInterval
	} else {
		r.DaysDiff = ceilDays(now.Sub(v.LastServiceDate))
	}
	r.TimeProgress = capProgress(float64(r.DaysDiff) / float64(th.DayInterval) * 100)

	switch {
	case r.KmDiff >= th.KmInterval || r.DaysDiff >= th.DayInterval:
		r.Maintenance = SeverityDanger
	case r.KmProgress >= 90 || r.TimeProgress >= 90:
		r.Maintenance = SeverityWarning
	default:
		r.Maintenance = SeverityOK
	}

	r.Afocat = evalCertificate(v.AfocatDate, now, th.AfocatWarnDays)
	r.Review = evalCertificate(v.ReviewDate, now, th.ReviewWarnDays)

	r.Overall = Worst(r.Maintenance, Worst(r.Afocat.Severity, r.Review.Severity))
	r.MajorServiceDue = v.ServiceCount > 0 && v.ServiceCount%10 == 0

	return r
}

// evalCertificate grades a certificate expiration date against its warning
// window. An absent date is the worst case: danger with -1 days remaining.
func evalCertificate(d *time.Time, now time.Time, warnDays int) CertStatus {
	if d == nil {
		return CertStatus{Severity: SeverityDanger, DaysRemaining: -1}
	}
	remaining := ceilDays(d.Sub(now))
	switch {
	case remaining <= 0:
		return CertStatus{Severity: SeverityDanger, DaysRemaining: remaining}
	case remaining <= warnDays:
		return CertStatus{Severity: SeverityWarning, DaysRemaining: remaining}
	default:
		return CertStatus{Severity: SeverityOK, DaysRemaining: remaining}
	}
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

func capProgress(p float64) float64 {
	if p > 100 {
		return 100
	}
	return p
}
