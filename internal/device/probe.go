package device

import (
	"context"
	"time"
)

// StaticProbe reports fixed values. It backs offline documents, where there
// is no live page to measure. A zero Elapsed runs the benchmark locally.
type StaticProbe struct {
	Env     Environment
	Batt    Battery
	Elapsed time.Duration
	Err     error
}

// Environment implements Probe.
func (p StaticProbe) Environment(ctx context.Context) (Environment, error) {
	if p.Err != nil {
		return Environment{}, p.Err
	}
	return p.Env, ctx.Err()
}

// Benchmark implements Probe.
func (p StaticProbe) Benchmark(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.Elapsed > 0 {
		return p.Elapsed, nil
	}
	return LocalBenchmark(), nil
}

// Battery implements Probe.
func (p StaticProbe) Battery(ctx context.Context) (Battery, error) {
	return p.Batt, ctx.Err()
}
