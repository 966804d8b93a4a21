package runner

import (
	"strings"
	"testing"
)

func testSpec() Spec {
	return Spec{
		SessionID:          "11111111-2222-3333-4444-555555555555",
		OwnerID:            "owner-1",
		CodeURL:            "https://example.com/bundle.tar.gz",
		CodeChecksum:       strings.Repeat("a", 64),
		Command:            "run-agent",
		Prompt:             "do the thing",
		Image:              "registry.example.com/cli-sandbox:latest",
		CPU:                "500m",
		Memory:             "512Mi",
		JobTTLSeconds:      600,
		ActiveDeadlineSecs: 3600,
	}
}

func TestJobNameUsesFirst13CharsOfSessionID(t *testing.T) {
	got := JobName("11111111-2222-3333-4444-555555555555")
	want := "wscli-11111111-2222"
	if got != want {
		t.Errorf("JobName = %q, want %q", got, want)
	}
}

func TestJobNameHandlesShortSessionID(t *testing.T) {
	got := JobName("abc")
	if got != "wscli-abc" {
		t.Errorf("JobName(short) = %q", got)
	}
}

func TestBuildJobSetsEnvContract(t *testing.T) {
	spec := testSpec()
	job, err := BuildJob(spec)
	if err != nil {
		t.Fatalf("BuildJob: %v", err)
	}
	if job.Name != JobName(spec.SessionID) {
		t.Errorf("job name = %q", job.Name)
	}
	if job.Labels["session"] != spec.SessionID {
		t.Errorf("job missing session label")
	}

	container := job.Spec.Template.Spec.Containers[0]
	env := map[string]string{}
	for _, e := range container.Env {
		env[e.Name] = e.Value
	}
	if env["SANDBOX_CODE_URL"] != spec.CodeURL {
		t.Errorf("SANDBOX_CODE_URL = %q", env["SANDBOX_CODE_URL"])
	}
	if env["SANDBOX_COMMAND"] != spec.Command {
		t.Errorf("SANDBOX_COMMAND = %q", env["SANDBOX_COMMAND"])
	}
	if env["SANDBOX_PROMPT_JSON"] != `"do the thing"` {
		t.Errorf("SANDBOX_PROMPT_JSON = %q", env["SANDBOX_PROMPT_JSON"])
	}
}

func TestBuildJobHardensContainer(t *testing.T) {
	spec := testSpec()
	job, err := BuildJob(spec)
	if err != nil {
		t.Fatalf("BuildJob: %v", err)
	}
	sc := job.Spec.Template.Spec.Containers[0].SecurityContext
	if sc.AllowPrivilegeEscalation == nil || *sc.AllowPrivilegeEscalation {
		t.Error("expected AllowPrivilegeEscalation=false")
	}
	if sc.ReadOnlyRootFilesystem == nil || !*sc.ReadOnlyRootFilesystem {
		t.Error("expected ReadOnlyRootFilesystem=true")
	}
	if len(sc.Capabilities.Drop) != 1 || sc.Capabilities.Drop[0] != "ALL" {
		t.Error("expected capabilities dropped: ALL")
	}
	if job.Spec.Template.Spec.ServiceAccountName != ServiceAccountName(spec.SessionID) {
		t.Error("expected per-session service account")
	}
}

func TestBuildJobRejectsInvalidResourceQuantity(t *testing.T) {
	spec := testSpec()
	spec.CPU = "not-a-quantity"
	if _, err := BuildJob(spec); err == nil {
		t.Fatal("expected error for invalid CPU quantity")
	}
}

func TestSessionIDLabelSelector(t *testing.T) {
	got := SessionIDLabelSelector("abc-123")
	if got != "session=abc-123" {
		t.Errorf("SessionIDLabelSelector = %q", got)
	}
}
