package compute

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// ErrProvisioningFailed marks a provisioning attempt the backend rejected.
var ErrProvisioningFailed = errors.New("provisioning failed")

// Provisioner brings an instance up on some backend. It must return promptly
// once ctx is done.
type Provisioner interface {
	Provision(ctx context.Context, inst models.Instance) error
}

// SimulatedProvisioner stands in for a container runtime: it waits a random
// delay in [MinDelay, MaxDelay] and fails with probability FailureRate.
type SimulatedProvisioner struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64

	// Float64 and Int64N default to math/rand/v2; tests replace them.
	Float64 func() float64
	Int64N  func(n int64) int64
}

// NewSimulatedProvisioner returns a SimulatedProvisioner with the package RNG.
func NewSimulatedProvisioner(minDelay, maxDelay time.Duration, failureRate float64) *SimulatedProvisioner {
	return &SimulatedProvisioner{
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		FailureRate: failureRate,
		Float64:     rand.Float64,
		Int64N:      rand.Int64N,
	}
}

// Provision implements Provisioner.
func (p *SimulatedProvisioner) Provision(ctx context.Context, inst models.Instance) error {
	timer := time.NewTimer(p.delay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if p.FailureRate > 0 && p.float64() < p.FailureRate {
		return fmt.Errorf("%w: image %s did not start", ErrProvisioningFailed, inst.Image)
	}
	return nil
}

func (p *SimulatedProvisioner) delay() time.Duration {
	d := p.MinDelay
	if spread := p.MaxDelay - p.MinDelay; spread > 0 {
		intn := p.Int64N
		if intn == nil {
			intn = rand.Int64N
		}
		d += time.Duration(intn(int64(spread) + 1))
	}
	return d
}

func (p *SimulatedProvisioner) float64() float64 {
	if p.Float64 == nil {
		return rand.Float64()
	}
	return p.Float64()
}
