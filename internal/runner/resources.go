// Package runner builds the Kubernetes objects for one sandbox session: a
// Job running the sandbox boot script, a per-session ServiceAccount/Role
// granting it minimal in-cluster credentials, and a NetworkPolicy isolating
// it from other sessions. Adapted from the teacher's PVC/Pod builder and
// security hardening, re-keyed from per-user to per-session naming.
package runner

import (
	"encoding/json"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	labelApp       = "cli-sandbox"
	labelManagedBy = "cli-sandbox-controller"
	labelSession   = "session"
	terminalPort   = 7681
	workspaceMount = "/workspace"
)

// SessionIDLabelSelector returns the label selector used to find the pod(s)
// backing sessionID (spec §4.1: "pods labeled with the session's unique id").
func SessionIDLabelSelector(sessionID string) string {
	return fmt.Sprintf("%s=%s", labelSession, sessionID)
}

// JobName returns the deterministic job name for a sessionId, matching
// spec §4.1's contract: jobName = "wscli-" + first 13 chars of sessionId.
func JobName(sessionID string) string {
	n := 13
	if len(sessionID) < n {
		n = len(sessionID)
	}
	return "wscli-" + sessionID[:n]
}

// ServiceAccountName returns the per-session ServiceAccount/Role name.
func ServiceAccountName(sessionID string) string {
	return JobName(sessionID) + "-runner"
}

// Labels returns the common labels applied to every object belonging to a
// session's sandbox.
func Labels(sessionID string) map[string]string {
	return map[string]string{
		"app":        labelApp,
		labelSession: sessionID,
		"managed-by": labelManagedBy,
	}
}

// Spec describes one sandbox workload, already validated by
// internal/validation.
type Spec struct {
	SessionID    string
	OwnerID      string
	CodeURL      string
	CodeChecksum string
	Command      string
	Prompt       string

	Image              string
	CPU                string
	Memory             string
	JobTTLSeconds      int32
	ActiveDeadlineSecs int64
}

// BuildJob creates the Job that runs the sandbox boot script for spec.
// The boot script (out of scope; a black-box binary contract) downloads,
// verifies, installs, and launches the terminal server on terminalPort,
// reading its instructions entirely from environment variables — the
// validated command string is never re-expanded by a shell here or in the
// container's entrypoint.
func BuildJob(spec Spec) (*batchv1.Job, error) {
	cpuQty, err := resource.ParseQuantity(spec.CPU)
	if err != nil {
		return nil, fmt.Errorf("parse CPU quantity %q: %w", spec.CPU, err)
	}
	memQty, err := resource.ParseQuantity(spec.Memory)
	if err != nil {
		return nil, fmt.Errorf("parse memory quantity %q: %w", spec.Memory, err)
	}

	labels := Labels(spec.SessionID)
	jobName := JobName(spec.SessionID)
	activeDeadline := spec.ActiveDeadlineSecs

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:   jobName,
			Labels: labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr(int32(0)),
			TTLSecondsAfterFinished: ptr(spec.JobTTLSeconds),
			ActiveDeadlineSeconds:   &activeDeadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: ServiceAccountName(spec.SessionID),
					SecurityContext: &corev1.PodSecurityContext{
						RunAsNonRoot: ptr(true),
						RunAsUser:    ptr(int64(1000)),
						SeccompProfile: &corev1.SeccompProfile{
							Type: corev1.SeccompProfileTypeRuntimeDefault,
						},
					},
					Containers: []corev1.Container{
						{
							Name:  "sandbox",
							Image: spec.Image,
							SecurityContext: &corev1.SecurityContext{
								ReadOnlyRootFilesystem:   ptr(true),
								AllowPrivilegeEscalation: ptr(false),
								Capabilities: &corev1.Capabilities{
									Drop: []corev1.Capability{"ALL"},
								},
							},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    cpuQty,
									corev1.ResourceMemory: memQty,
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    cpuQty,
									corev1.ResourceMemory: memQty,
								},
							},
							Ports: []corev1.ContainerPort{
								{Name: "terminal", ContainerPort: terminalPort, Protocol: corev1.ProtocolTCP},
							},
							ReadinessProbe: readinessProbe(),
							VolumeMounts: []corev1.VolumeMount{
								{Name: "workspace", MountPath: workspaceMount},
								{Name: "tmp", MountPath: "/tmp"},
							},
							Env: buildEnvVars(spec),
						},
					},
					Volumes: []corev1.Volume{
						{Name: "workspace", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
						{Name: "tmp", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
					},
				},
			},
		},
	}
	return job, nil
}

func readinessProbe() *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			TCPSocket: &corev1.TCPSocketAction{
				Port: intstr.FromInt32(terminalPort),
			},
		},
		InitialDelaySeconds: 2,
		PeriodSeconds:       2,
	}
}

// buildEnvVars constructs the sandbox container's environment. The command
// is passed as one opaque env value (SANDBOX_COMMAND), never as a shell
// argument list a shell might re-expand.
func buildEnvVars(spec Spec) []corev1.EnvVar {
	promptJSON, _ := json.Marshal(spec.Prompt)
	return []corev1.EnvVar{
		{Name: "SANDBOX_CODE_URL", Value: spec.CodeURL},
		{Name: "SANDBOX_CODE_CHECKSUM", Value: spec.CodeChecksum},
		{Name: "SANDBOX_COMMAND", Value: spec.Command},
		{Name: "SANDBOX_PROMPT_JSON", Value: string(promptJSON)},
		{Name: "SANDBOX_SESSION_ID", Value: spec.SessionID},
		{Name: "SANDBOX_OWNER_ID", Value: spec.OwnerID},
	}
}

func ptr[T any](v T) *T { return &v }
