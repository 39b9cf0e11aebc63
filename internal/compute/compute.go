// Package compute runs the instance lifecycle. Launch records a pending
// instance and returns at once; a per-instance goroutine provisions it and
// commits the outcome only if the record is still live at the generation it
// started from. Stop and delete bump the generation, so a late commit can
// never resurrect or overwrite a newer state.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/events"
	"github.com/PoyrazK/Mini-AWS/internal/safego"
	"github.com/PoyrazK/Mini-AWS/internal/store"
	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

const (
	maxNameLength  = 255
	maxImageLength = 512

	// DefaultTimeout bounds a provisioning attempt when Options.Timeout is zero.
	DefaultTimeout = 30 * time.Second
)

// LaunchRequest describes an instance to launch. Ports uses the
// "host:container[/proto],..." syntax.
type LaunchRequest struct {
	Name     string
	Image    string
	VPCID    string
	SubnetID string
	Ports    string
}

// Options configures an Orchestrator.
type Options struct {
	// Timeout bounds each provisioning attempt.
	Timeout time.Duration
}

// Orchestrator implements the instance operations.
type Orchestrator struct {
	arena       *store.Arena
	provisioner Provisioner
	events      events.Publisher
	timeout     time.Duration
	now         func() time.Time
	tasks       safego.Tracker
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(arena *store.Arena, p Provisioner, pub events.Publisher, opts Options) *Orchestrator {
	if pub == nil {
		pub = events.Discard{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		arena:       arena,
		provisioner: p,
		events:      pub,
		timeout:     opts.Timeout,
		now:         time.Now,
	}
}

// Launch validates req, records a pending instance and starts provisioning in
// the background.
func (o *Orchestrator) Launch(_ context.Context, owner string, req LaunchRequest) (models.Instance, error) {
	name := strings.TrimSpace(req.Name)
	image := strings.TrimSpace(req.Image)
	switch {
	case name == "":
		return models.Instance{}, apperr.Validation("name is required")
	case len(name) > maxNameLength:
		return models.Instance{}, apperr.Validation("name must be at most %d characters", maxNameLength)
	case image == "":
		return models.Instance{}, apperr.Validation("image is required")
	case len(image) > maxImageLength:
		return models.Instance{}, apperr.Validation("image must be at most %d characters", maxImageLength)
	case strings.TrimSpace(req.VPCID) == "":
		return models.Instance{}, apperr.Validation("vpc_id is required")
	case strings.TrimSpace(req.SubnetID) == "":
		return models.Instance{}, apperr.Validation("subnet_id is required")
	}
	ports, err := models.ParsePortMappings(req.Ports)
	if err != nil {
		return models.Instance{}, apperr.Validation("ports: %v", err)
	}

	tenant := o.arena.Tenant(owner)
	if _, err := tenant.VPC(req.VPCID); err != nil {
		return models.Instance{}, err
	}

	now := o.now().UTC()
	var (
		pctx   context.Context
		cancel context.CancelFunc
	)
	inst, err := store.InsertWithRetry("i", func(id string) (models.Instance, error) {
		pctx, cancel = context.WithTimeout(context.Background(), o.timeout)
		inst, err := tenant.CreateInstance(models.Instance{
			ID:         id,
			AccountID:  owner,
			Name:       name,
			Image:      image,
			VPCID:      req.VPCID,
			SubnetID:   req.SubnetID,
			Ports:      ports,
			Status:     models.InstanceStatusPending,
			Generation: 1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}, cancel)
		if err != nil {
			cancel()
		}
		return inst, err
	})
	if err != nil {
		return models.Instance{}, err
	}

	telemetry.InstancesLaunchedTotal.Inc()
	slog.Info("instance launched", "account_id", owner, "instance_id", inst.ID,
		"vpc_id", inst.VPCID, "subnet_id", inst.SubnetID, "image", inst.Image)
	o.events.Publish(events.New(owner, models.EventInstanceLaunched, "instance", inst.ID,
		fmt.Sprintf("instance %s (%s) launched in subnet %s", inst.ID, inst.Image, inst.SubnetID)))

	o.tasks.Go("provision "+inst.ID, func() {
		o.provision(pctx, tenant, inst)
	})
	return inst, nil
}

func (o *Orchestrator) provision(ctx context.Context, tenant *store.Tenant, inst models.Instance) {
	start := o.now()
	err := o.provisioner.Provision(ctx, inst)

	out := store.Outcome{At: o.now().UTC()}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		out.Failed = true
		out.Message = fmt.Sprintf("provisioning timed out after %s", o.timeout)
	case errors.Is(err, context.Canceled):
		// Deleted while provisioning; the commit below observes the stale generation.
		out.Failed = true
		out.Message = "provisioning cancelled"
	default:
		out.Failed = true
		out.Message = err.Error()
	}

	committed, cerr := tenant.CommitProvisioning(inst.ID, inst.Generation, out)
	elapsed := o.now().Sub(start).Seconds()
	if errors.Is(cerr, store.ErrStale) {
		telemetry.InstanceProvisioningDuration.WithLabelValues("cancelled").Observe(elapsed)
		slog.Debug("provisioning outcome discarded", "instance_id", inst.ID, "generation", inst.Generation)
		return
	}
	if cerr != nil {
		slog.Error("failed to commit provisioning outcome", "instance_id", inst.ID, "error", cerr)
		return
	}
	o.recordOutcome(committed, elapsed)
}

func (o *Orchestrator) recordOutcome(inst models.Instance, elapsed float64) {
	to := string(inst.Status)
	telemetry.InstanceTransitionsTotal.WithLabelValues(string(models.InstanceStatusPending), to).Inc()
	telemetry.InstanceProvisioningDuration.WithLabelValues(to).Observe(elapsed)

	if inst.Status == models.InstanceStatusRunning {
		slog.Info("instance running", "account_id", inst.AccountID, "instance_id", inst.ID, "private_ip", inst.PrivateIP)
		o.events.Publish(events.New(inst.AccountID, models.EventInstanceRunning, "instance", inst.ID,
			fmt.Sprintf("instance %s is running at %s", inst.ID, inst.PrivateIP)))
		return
	}
	slog.Warn("instance provisioning failed", "account_id", inst.AccountID, "instance_id", inst.ID, "reason", inst.ErrorMessage)
	o.events.Publish(events.New(inst.AccountID, models.EventInstanceError, "instance", inst.ID,
		fmt.Sprintf("instance %s failed: %s", inst.ID, inst.ErrorMessage)))
}

// Get returns one instance of owner.
func (o *Orchestrator) Get(_ context.Context, owner, id string) (models.Instance, error) {
	return o.arena.Tenant(owner).GetInstance(id)
}

// List returns owner's instances ordered by creation time.
func (o *Orchestrator) List(_ context.Context, owner string) []models.Instance {
	return o.arena.Tenant(owner).ListInstances()
}

// Stop moves a running instance to stopped and frees its address.
func (o *Orchestrator) Stop(_ context.Context, owner, id string) (models.Instance, error) {
	inst, err := o.arena.Tenant(owner).StopInstance(id, o.now().UTC())
	if err != nil {
		return models.Instance{}, err
	}
	telemetry.InstanceTransitionsTotal.WithLabelValues(string(models.InstanceStatusRunning), string(inst.Status)).Inc()
	slog.Info("instance stopped", "account_id", owner, "instance_id", id)
	o.events.Publish(events.New(owner, models.EventInstanceStopped, "instance", id,
		fmt.Sprintf("instance %s stopped", id)))
	return inst, nil
}

// Delete removes an instance from any state, cancelling in-flight provisioning.
func (o *Orchestrator) Delete(_ context.Context, owner, id string) error {
	inst, err := o.arena.Tenant(owner).DeleteInstance(id)
	if err != nil {
		return err
	}
	telemetry.InstanceTransitionsTotal.WithLabelValues(string(inst.Status), "deleted").Inc()
	slog.Info("instance deleted", "account_id", owner, "instance_id", id, "status", inst.Status)
	o.events.Publish(events.New(owner, models.EventInstanceDeleted, "instance", id,
		fmt.Sprintf("instance %s deleted", id)))
	return nil
}

// FailStuck moves every instance pending for longer than olderThan to error.
// Each commit goes through the generation check, so an instance that finished
// provisioning or was deleted meanwhile is left alone. It returns the number
// of instances failed.
func (o *Orchestrator) FailStuck(olderThan time.Duration) int {
	now := o.now().UTC()
	cutoff := now.Add(-olderThan)
	failed := 0
	for _, tenant := range o.arena.Tenants() {
		for _, inst := range tenant.ListInstances() {
			if inst.Status != models.InstanceStatusPending || inst.CreatedAt.After(cutoff) {
				continue
			}
			committed, err := tenant.CommitProvisioning(inst.ID, inst.Generation, store.Outcome{
				Failed:  true,
				Message: fmt.Sprintf("provisioning did not complete within %s", olderThan),
				At:      now,
			})
			if err != nil {
				continue
			}
			failed++
			o.recordOutcome(committed, now.Sub(inst.CreatedAt).Seconds())
		}
	}
	return failed
}

// Wait blocks until every provisioning goroutine has finished.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}
