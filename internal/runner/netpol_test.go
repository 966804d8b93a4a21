package runner

import "testing"

func TestBuildDenyAllNetworkPolicyBlocksEverything(t *testing.T) {
	np := BuildDenyAllNetworkPolicy("sess-1")
	if len(np.Spec.Ingress) != 0 || len(np.Spec.Egress) != 0 {
		t.Error("deny-all policy must have empty ingress and egress rule lists")
	}
	if len(np.Spec.PolicyTypes) != 2 {
		t.Error("deny-all policy must cover both ingress and egress")
	}
}

func TestBuildEgressNetworkPolicyFallsBackToDefaultPorts(t *testing.T) {
	np := BuildEgressNetworkPolicy("sess-1", nil)
	var sawInternet bool
	for _, rule := range np.Spec.Egress {
		for _, peer := range rule.To {
			if peer.IPBlock != nil && peer.IPBlock.CIDR == "0.0.0.0/0" {
				sawInternet = true
				if len(rule.Ports) != len(DefaultEgressPorts) {
					t.Errorf("expected %d default ports, got %d", len(DefaultEgressPorts), len(rule.Ports))
				}
			}
		}
	}
	if !sawInternet {
		t.Error("expected an egress rule allowing 0.0.0.0/0")
	}
}

func TestBuildEgressNetworkPolicyDropsInvalidPorts(t *testing.T) {
	np := BuildEgressNetworkPolicy("sess-1", []int32{443, 0, 70000, -1})
	for _, rule := range np.Spec.Egress {
		for _, peer := range rule.To {
			if peer.IPBlock != nil {
				if len(rule.Ports) != 1 {
					t.Errorf("expected only the valid port 443 to survive, got %d ports", len(rule.Ports))
				}
			}
		}
	}
}

func TestBuildIngressFromGatewayNetworkPolicyScopesToTerminalPort(t *testing.T) {
	np := BuildIngressFromGatewayNetworkPolicy("sess-1")
	if len(np.Spec.Ingress) != 1 {
		t.Fatalf("expected exactly one ingress rule")
	}
	rule := np.Spec.Ingress[0]
	if len(rule.Ports) != 1 || rule.Ports[0].Port.IntVal != terminalPort {
		t.Errorf("expected ingress scoped to terminal port %d", terminalPort)
	}
	if len(rule.From) != 1 || rule.From[0].PodSelector.MatchLabels["app"] != labelGatewayApp {
		t.Error("expected ingress restricted to gateway pods")
	}
}
