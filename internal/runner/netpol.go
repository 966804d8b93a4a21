package runner

import (
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	// labelGatewayApp selects the Gateway's own pods, so only it may open a
	// connection to a sandbox pod's terminal port.
	labelGatewayApp = "cli-sandbox-gateway"
	// dnsNamespace is selected by the stable kubernetes.io/metadata.name
	// label Kubernetes sets on every namespace since v1.21.
	dnsNamespace = "kube-system"
)

// DefaultEgressPorts is used when a caller does not configure its own list:
// 80/443 for HTTPS code downloads and package registries, 22 for git+ssh.
var DefaultEgressPorts = []int32{22, 80, 443}

func netpolName(sessionID, suffix string) string {
	return JobName(sessionID) + "-" + suffix
}

func port(p int32) *intstr.IntOrString {
	v := intstr.FromInt32(p)
	return &v
}

func protoPtr(p corev1.Protocol) *corev1.Protocol { return &p }

func namespaceSelectorByName(name string) networkingv1.NetworkPolicyPeer {
	return networkingv1.NetworkPolicyPeer{
		NamespaceSelector: &metav1.LabelSelector{
			MatchLabels: map[string]string{"kubernetes.io/metadata.name": name},
		},
	}
}

func sessionPodSelector(sessionID string) metav1.LabelSelector {
	return metav1.LabelSelector{MatchLabels: Labels(sessionID)}
}

// BuildDenyAllNetworkPolicy denies all ingress and egress for sessionID's
// pod. BuildEgressNetworkPolicy and BuildIngressFromGatewayNetworkPolicy then
// selectively re-open exactly the traffic the sandbox needs.
func BuildDenyAllNetworkPolicy(sessionID string) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:   netpolName(sessionID, "deny-all"),
			Labels: Labels(sessionID),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: sessionPodSelector(sessionID),
			PolicyTypes: []networkingv1.PolicyType{
				networkingv1.PolicyTypeIngress,
				networkingv1.PolicyTypeEgress,
			},
			Ingress: []networkingv1.NetworkPolicyIngressRule{},
			Egress:  []networkingv1.NetworkPolicyEgressRule{},
		},
	}
}

// BuildEgressNetworkPolicy allows the sandbox pod to reach DNS and, on
// egressPorts, the open internet — this is the NetworkPolicy-level backstop
// for code downloads; the admission-time allowlist in internal/validation is
// the primary control, since NetworkPolicy cannot filter by hostname.
// Invalid ports (outside 1-65535) are dropped, not rejected.
func BuildEgressNetworkPolicy(sessionID string, egressPorts []int32) *networkingv1.NetworkPolicy {
	if len(egressPorts) == 0 {
		egressPorts = DefaultEgressPorts
	}

	egressRules := []networkingv1.NetworkPolicyEgressRule{
		{
			Ports: []networkingv1.NetworkPolicyPort{
				{Protocol: protoPtr(corev1.ProtocolUDP), Port: port(53)},
				{Protocol: protoPtr(corev1.ProtocolTCP), Port: port(53)},
			},
			To: []networkingv1.NetworkPolicyPeer{namespaceSelectorByName(dnsNamespace)},
		},
	}

	var internetPorts []networkingv1.NetworkPolicyPort
	for _, p := range egressPorts {
		if p < 1 || p > 65535 {
			continue
		}
		internetPorts = append(internetPorts, networkingv1.NetworkPolicyPort{
			Protocol: protoPtr(corev1.ProtocolTCP),
			Port:     port(p),
		})
	}
	egressRules = append(egressRules, networkingv1.NetworkPolicyEgressRule{
		Ports: internetPorts,
		To: []networkingv1.NetworkPolicyPeer{
			{IPBlock: &networkingv1.IPBlock{CIDR: "0.0.0.0/0"}},
		},
	})

	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:   netpolName(sessionID, "egress"),
			Labels: Labels(sessionID),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: sessionPodSelector(sessionID),
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress:      egressRules,
		},
	}
}

// BuildIngressFromGatewayNetworkPolicy allows only Gateway pods to reach the
// sandbox pod's terminal port.
func BuildIngressFromGatewayNetworkPolicy(sessionID string) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:   netpolName(sessionID, "ingress-gateway"),
			Labels: Labels(sessionID),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: sessionPodSelector(sessionID),
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress: []networkingv1.NetworkPolicyIngressRule{
				{
					Ports: []networkingv1.NetworkPolicyPort{
						{Protocol: protoPtr(corev1.ProtocolTCP), Port: port(terminalPort)},
					},
					From: []networkingv1.NetworkPolicyPeer{
						{
							PodSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{"app": labelGatewayApp},
							},
						},
					},
				},
			},
		},
	}
}
