// Package provider defines the contract shared by the three deployment
// backends. The orchestrator is provider-agnostic: it only needs the
// ordered step list for an operation and runs the steps one at a time,
// persisting the deployment record after each.
package provider

import (
	"context"

	"github.com/wgforge/wgforge/pkg/state"
)

// StepSpec names one pipeline step. Message is the human-readable progress
// text shown while the step runs.
type StepSpec struct {
	Name    string
	Message string
}

// Step couples a StepSpec with its implementation. Run mutates the record
// only after the provider has confirmed the resource exists or is gone
// (write-after-confirm); the orchestrator saves the record immediately
// after Run returns, whether or not it succeeded.
//
// Create steps must be idempotent on resume: when the record already holds
// a handle of the step's kind, the step verifies the resource is live
// instead of creating a duplicate.
type Step struct {
	StepSpec
	Run func(ctx context.Context, rec *state.Record) error
}

// Request carries the caller-supplied parameters for one deploy.
type Request struct {
	Provider state.Provider `validate:"required"`

	// Region is the provider region; required for cloud providers,
	// meaningless for byo.
	Region string `validate:"required_unless=Provider byo"`

	// InstanceType is the compute size (AWS instance type or DO droplet
	// size slug); defaulted from settings when empty.
	InstanceType string

	// BYO target. The caller supplies the host and SSH credential; the
	// pipeline starts directly at the SSH step.
	Host          string `validate:"required_if=Provider byo,omitempty,hostname|ip"`
	SSHUser       string `validate:"required_if=Provider byo"`
	SSHPort       int    `validate:"omitempty,min=1,max=65535"`
	SSHPrivateKey string `validate:"required_if=Provider byo"`

	// WireGuardPort is the tunnel listen port; defaulted from settings.
	WireGuardPort int `validate:"omitempty,min=1,max=65535"`

	// AutoDestroyHours arms the self-destruct timer when > 0.
	AutoDestroyHours int `validate:"omitempty,min=1,max=720"`
}

// Provider is one deployment backend. Steps returns the fixed, ordered
// provisioning pipeline for a request; TeardownSteps returns the fixed
// deletion pipeline, which walks resource handles in strict reverse of
// creation order and tolerates resources that are already gone.
type Provider interface {
	Name() state.Provider
	Steps(req Request) ([]Step, error)
	TeardownSteps() []Step
}
