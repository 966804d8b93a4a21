package runner

import (
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BuildServiceAccount creates the per-session identity the sandbox Pod runs
// as. It carries no cluster permissions by itself; BuildRole/BuildRoleBinding
// grant it read access to pods. Its token is not automounted, and the Job's
// pod spec does not mount one either.
func BuildServiceAccount(sessionID string) *corev1.ServiceAccount {
	return &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:   ServiceAccountName(sessionID),
			Labels: Labels(sessionID),
		},
		AutomountServiceAccountToken: ptr(false),
	}
}

// BuildRole grants read-only access (get, list) to pods in the namespace,
// with no write permission. It is not limited to the session's own pod.
func BuildRole(sessionID string) *rbacv1.Role {
	return &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{
			Name:   ServiceAccountName(sessionID),
			Labels: Labels(sessionID),
		},
		Rules: []rbacv1.PolicyRule{
			{
				APIGroups: []string{""},
				Resources: []string{"pods"},
				Verbs:     []string{"get", "list"},
			},
		},
	}
}

// BuildRoleBinding binds BuildRole to BuildServiceAccount for sessionID.
func BuildRoleBinding(sessionID, namespace string) *rbacv1.RoleBinding {
	name := ServiceAccountName(sessionID)
	return &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: Labels(sessionID),
		},
		Subjects: []rbacv1.Subject{
			{Kind: "ServiceAccount", Name: name, Namespace: namespace},
		},
		RoleRef: rbacv1.RoleRef{
			APIGroup: "rbac.authorization.k8s.io",
			Kind:     "Role",
			Name:     name,
		},
	}
}
