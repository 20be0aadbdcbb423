package antispoof

import (
	"context"
	"fmt"

	"placequest-core/pkg/config"
	"placequest-core/pkg/geo"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	checksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "antispoof_checks_total",
		Help: "Location claims judged by the anti-spoof pipeline.",
	})
	rejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antispoof_rejects_total",
		Help: "Location claims rejected, by rule.",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(checksTotal, rejectsTotal)
}

// Pipeline runs claims through its rules in order. The first rejecting rule
// wins; rules that pass may still lower the confidence score. Accepted fixes
// are recorded to the history store after the whole pipeline passed, so a
// later rejection never pollutes the velocity baseline.
type Pipeline struct {
	rules   []Rule
	history FixStore
}

// NewPipeline assembles the baseline rules from configuration plus any extra
// rules the caller appends. history may be nil, which disables the velocity
// check and fix recording.
func NewPipeline(cfg config.AntispoofConfig, history FixStore, extra ...Rule) *Pipeline {
	rules := []Rule{
		providerRule{},
		mockedFlagRule{},
		accuracyRule{min: cfg.MinAccuracyM, max: cfg.MaxAccuracyM},
	}
	if history != nil {
		rules = append(rules, velocityRule{history: history, maxSpeedMps: cfg.MaxSpeedMps})
	}
	rules = append(rules, extra...)

	return &Pipeline{rules: rules, history: history}
}

func (p *Pipeline) Check(ctx context.Context, claim Claim) (Verdict, error) {
	checksTotal.Inc()

	score := 1.0
	for _, rule := range p.rules {
		verdict, err := rule.Evaluate(ctx, claim)
		if err != nil {
			return Verdict{}, err
		}
		if !verdict.OK {
			rejectsTotal.WithLabelValues(rule.Name()).Inc()
			zap.L().Info("location claim rejected",
				zap.String("rule", rule.Name()),
				zap.String("reason", verdict.Reason),
				zap.String("device_id", claim.DeviceID),
			)
			return verdict, nil
		}
		if verdict.Score > 0 && verdict.Score < score {
			score = verdict.Score
		}
	}

	if p.history != nil && claim.DeviceID != "" {
		if err := p.history.Record(ctx, claim.DeviceID, Fix{
			Lat:       claim.Lat,
			Lng:       claim.Lng,
			Timestamp: claim.Timestamp,
		}); err != nil {
			return Verdict{}, err
		}
	}

	return Verdict{OK: true, Score: score}, nil
}

type providerRule struct{}

func (providerRule) Name() string { return "provider" }

func (providerRule) Evaluate(ctx context.Context, claim Claim) (Verdict, error) {
	if claim.Provider == "mock" {
		return Verdict{Reason: "location provider is a mock provider"}, nil
	}
	return Verdict{OK: true, Score: 1}, nil
}

type mockedFlagRule struct{}

func (mockedFlagRule) Name() string { return "mocked_flag" }

func (mockedFlagRule) Evaluate(ctx context.Context, claim Claim) (Verdict, error) {
	if claim.Mocked {
		return Verdict{Reason: "client reported a mocked location"}, nil
	}
	return Verdict{OK: true, Score: 1}, nil
}

// accuracyRule rejects fixes whose reported accuracy is worse than the
// plausible band and lowers confidence for fixes that look too good to be
// real hardware output. The precise-side treatment is policy, not a hard
// rule, so it scores instead of rejecting.
type accuracyRule struct {
	min float64
	max float64
}

func (accuracyRule) Name() string { return "accuracy" }

func (r accuracyRule) Evaluate(ctx context.Context, claim Claim) (Verdict, error) {
	if claim.Accuracy <= 0 {
		return Verdict{Reason: "location accuracy is missing or non-positive"}, nil
	}
	if r.max > 0 && claim.Accuracy > r.max {
		return Verdict{Reason: fmt.Sprintf("location accuracy %.0fm exceeds plausible maximum %.0fm", claim.Accuracy, r.max)}, nil
	}
	if r.min > 0 && claim.Accuracy < r.min {
		return Verdict{OK: true, Score: 0.5}, nil
	}
	return Verdict{OK: true, Score: 1}, nil
}

// velocityRule compares the claim with the device's last accepted fix and
// rejects when the implied speed between them is beyond maxSpeedMps.
type velocityRule struct {
	history     FixStore
	maxSpeedMps float64
}

func (velocityRule) Name() string { return "velocity" }

func (r velocityRule) Evaluate(ctx context.Context, claim Claim) (Verdict, error) {
	if claim.DeviceID == "" || r.maxSpeedMps <= 0 {
		return Verdict{OK: true, Score: 1}, nil
	}

	last, err := r.history.Last(ctx, claim.DeviceID)
	if err != nil {
		return Verdict{}, err
	}
	if last == nil {
		return Verdict{OK: true, Score: 1}, nil
	}

	elapsed := claim.Timestamp.Sub(last.Timestamp).Seconds()
	speed := geo.SpeedMps(last.Lat, last.Lng, claim.Lat, claim.Lng, elapsed)
	if speed > r.maxSpeedMps {
		return Verdict{Reason: fmt.Sprintf("implied speed %.0fm/s between fixes exceeds plausible maximum %.0fm/s", speed, r.maxSpeedMps)}, nil
	}

	return Verdict{OK: true, Score: 1}, nil
}
