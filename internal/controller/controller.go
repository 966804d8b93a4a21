// Package controller implements the Session Controller: admission, workload
// validation, orchestrator job submission, pod-IP discovery, and capability
// token minting.
package controller

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"cli-sandbox/internal/admission"
	"cli-sandbox/internal/capability"
	"cli-sandbox/internal/metrics"
	"cli-sandbox/internal/orchestrator"
	"cli-sandbox/internal/ratelimit"
	"cli-sandbox/internal/runner"
	"cli-sandbox/internal/store"
	"cli-sandbox/internal/validation"
)

// sessionIDShape matches the opaque-but-fixed-shape session id the Gateway
// and getSession both require.
var sessionIDShape = regexp.MustCompile(`^[0-9a-f-]{36}$`)

// Config holds the deployment-configurable knobs the Controller accepts.
type Config struct {
	Namespace             string
	RunnerImage           string
	RunnerCPU             string
	RunnerMemory          string
	JobTTLSeconds         int32
	ActiveDeadlineSeconds int64
	SessionExpirySeconds  int64
	DiscoveryDeadline     time.Duration
	AllowedCodeDomains    validation.AllowedCodeDomains
	GatewayPathPrefix     string
}

const (
	maxSessionExpirySeconds = 900
	defaultSessionExpiry    = 600 * time.Second
)

// Controller wires together admission, validation, rate limiting, the
// orchestrator client, the shared store, and the capability token signer
// behind the public contract in createSession/getSession/getPublicKeySet.
type Controller struct {
	cfg     Config
	authn   admission.Authenticator
	limiter *ratelimit.Limiter
	orch    *orchestrator.Client
	store   store.Store
	signer  *capability.Signer
	log     logr.Logger
}

// New builds a Controller. cfg.SessionExpirySeconds is clamped to
// maxSessionExpirySeconds per spec §5; zero falls back to the 600s default.
func New(cfg Config, authn admission.Authenticator, limiter *ratelimit.Limiter, orch *orchestrator.Client, st store.Store, signer *capability.Signer, log logr.Logger) *Controller {
	if cfg.SessionExpirySeconds <= 0 {
		cfg.SessionExpirySeconds = int64(defaultSessionExpiry.Seconds())
	}
	if cfg.SessionExpirySeconds > maxSessionExpirySeconds {
		cfg.SessionExpirySeconds = maxSessionExpirySeconds
	}
	return &Controller{cfg: cfg, authn: authn, limiter: limiter, orch: orch, store: st, signer: signer, log: log}
}

// CreateSessionRequest is the caller-supplied workload description.
type CreateSessionRequest struct {
	CodeURL      string `json:"codeUrl"`
	CodeChecksum string `json:"codeChecksum,omitempty"`
	Command      string `json:"command"`
	Prompt       string `json:"prompt,omitempty"`
}

// CreateSessionResult is returned to the caller on success.
type CreateSessionResult struct {
	SessionID string `json:"sessionId"`
	WSUrl     string `json:"wsUrl"`
	Token     string `json:"token"`
}

// SessionView is the caller-visible projection of a Session row.
type SessionView struct {
	SessionID string `json:"sessionId"`
	PodIP     string `json:"podIp,omitempty"`
	PodName   string `json:"podName,omitempty"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

// CreateSession implements the createSession contract of spec §4.1,
// following the ordering of spec §5 exactly: insertSession → createJob →
// pod-IP discovery → updateSessionPod → insertTokenId → respond.
func (c *Controller) CreateSession(ctx context.Context, caller admission.Caller, req CreateSessionRequest) (CreateSessionResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.SessionCreateDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	vreq := validation.Request{
		CodeURL:      req.CodeURL,
		CodeChecksum: req.CodeChecksum,
		Command:      req.Command,
		Prompt:       req.Prompt,
	}
	if err := validation.Validate(vreq, c.cfg.AllowedCodeDomains); err != nil {
		metrics.SessionsCreatedTotal.WithLabelValues("validation_failed").Inc()
		outcome = "validation_failed"
		return CreateSessionResult{}, newAPIError(kindValidation, err.Reason, err)
	}

	sessionID := uuid.NewString()
	jobName := runner.JobName(sessionID)
	now := time.Now()
	expiresAt := now.Add(time.Duration(c.cfg.SessionExpirySeconds) * time.Second)

	if err := c.store.InsertSession(ctx, store.Session{
		SessionID: sessionID,
		OwnerID:   caller.OwnerID,
		JobName:   jobName,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return CreateSessionResult{}, newAPIError(kindInternal, "session write failed", err)
	}

	if err := c.submitWorkload(ctx, sessionID, caller.OwnerID, vreq); err != nil {
		metrics.SessionsCreatedTotal.WithLabelValues("orchestrator_failure").Inc()
		outcome = "orchestrator_failure"
		return CreateSessionResult{}, newAPIError(kindOrchestratorFailure, "failed to submit workload", err)
	}

	discoveryStart := time.Now()
	result, err := c.orch.WatchPodIP(ctx, runner.SessionIDLabelSelector(sessionID), c.cfg.DiscoveryDeadline)
	metrics.PodDiscoveryDuration.Observe(time.Since(discoveryStart).Seconds())
	if err != nil {
		metrics.SessionsCreatedTotal.WithLabelValues("discovery_timeout").Inc()
		outcome = "discovery_timeout"
		return CreateSessionResult{}, newAPIError(kindDiscoveryTimeout, fmt.Sprintf("pod IP discovery timed out for session %s", sessionID), err)
	}

	if err := c.store.UpdateSessionPod(ctx, sessionID, result.PodIP, result.PodName); err != nil {
		return CreateSessionResult{}, newAPIError(kindInternal, "failed to record pod IP", err)
	}

	mint, err := c.signer.Mint(capability.MintRequest{
		Subject:   caller.OwnerID,
		SessionID: sessionID,
		TTL:       time.Duration(c.cfg.SessionExpirySeconds) * time.Second,
	})
	if err != nil {
		return CreateSessionResult{}, newAPIError(kindInternal, "failed to mint capability token", err)
	}

	if err := c.store.InsertTokenID(ctx, mint.TokenID, sessionID, mint.ExpiresAt); err != nil {
		return CreateSessionResult{}, newAPIError(kindInternal, "failed to record token id", err)
	}
	metrics.TokensMintedTotal.Inc()
	metrics.SessionsCreatedTotal.WithLabelValues("ok").Inc()
	outcome = "ok"

	return CreateSessionResult{
		SessionID: sessionID,
		WSUrl:     c.cfg.GatewayPathPrefix + sessionID,
		Token:     mint.Token,
	}, nil
}

// submitWorkload builds and creates the supporting objects and the Job for
// sessionID. RBAC and NetworkPolicy objects are created first so the Job
// never runs unconfined, even momentarily.
func (c *Controller) submitWorkload(ctx context.Context, sessionID, ownerID string, req validation.Request) error {
	if err := c.orch.CreateServiceAccount(ctx, runner.BuildServiceAccount(sessionID)); err != nil {
		return err
	}
	if err := c.orch.CreateRole(ctx, runner.BuildRole(sessionID)); err != nil {
		return err
	}
	if err := c.orch.CreateRoleBinding(ctx, runner.BuildRoleBinding(sessionID, c.cfg.Namespace)); err != nil {
		return err
	}
	if err := c.orch.CreateNetworkPolicy(ctx, runner.BuildDenyAllNetworkPolicy(sessionID)); err != nil {
		return err
	}
	if err := c.orch.CreateNetworkPolicy(ctx, runner.BuildEgressNetworkPolicy(sessionID, nil)); err != nil {
		return err
	}
	if err := c.orch.CreateNetworkPolicy(ctx, runner.BuildIngressFromGatewayNetworkPolicy(sessionID)); err != nil {
		return err
	}

	job, err := runner.BuildJob(runner.Spec{
		SessionID:          sessionID,
		OwnerID:            ownerID,
		CodeURL:            req.CodeURL,
		CodeChecksum:       req.CodeChecksum,
		Command:            req.Command,
		Prompt:             req.Prompt,
		Image:              c.cfg.RunnerImage,
		CPU:                c.cfg.RunnerCPU,
		Memory:             c.cfg.RunnerMemory,
		JobTTLSeconds:      c.cfg.JobTTLSeconds,
		ActiveDeadlineSecs: c.cfg.ActiveDeadlineSeconds,
	})
	if err != nil {
		return fmt.Errorf("build job: %w", err)
	}
	return c.orch.CreateJob(ctx, job)
}

// GetSession implements the getSession contract of spec §4.1.
func (c *Controller) GetSession(ctx context.Context, caller admission.Caller, sessionID string) (SessionView, error) {
	if !sessionIDShape.MatchString(sessionID) {
		return SessionView{}, newAPIError(kindValidation, "sessionId has invalid shape", nil)
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return SessionView{}, newAPIError(kindNotFound, "session not found", err)
		}
		return SessionView{}, newAPIError(kindInternal, "session lookup failed", err)
	}
	if sess.OwnerID != caller.OwnerID {
		return SessionView{}, newAPIError(kindForbidden, "not the session owner", nil)
	}

	return SessionView{
		SessionID: sess.SessionID,
		PodIP:     sess.PodIP,
		PodName:   sess.PodName,
		CreatedAt: sess.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// PublicKeySetJSON returns the Controller's currently published JWKS
// document, served under /.well-known/jwks.json.
func (c *Controller) PublicKeySetJSON() []byte {
	return c.signer.PublicKeySetJSON()
}
