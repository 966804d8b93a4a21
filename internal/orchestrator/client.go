// Package orchestrator is a thin client.go/controller-runtime-free wrapper
// around k8s.io/client-go's kubernetes.Interface: it submits sandbox Jobs and
// watches for the first pod IP to appear, per spec §4.1's pod-IP discovery
// algorithm. The orchestrator control plane itself is out of scope (spec
// §1) — this package only ever calls the stock Kubernetes API.
package orchestrator

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client submits sandbox jobs and their supporting objects to a single
// orchestrator namespace.
type Client struct {
	kube      kubernetes.Interface
	namespace string
}

// NewClient wraps an existing kubernetes.Interface, scoped to namespace.
func NewClient(kube kubernetes.Interface, namespace string) *Client {
	return &Client{kube: kube, namespace: namespace}
}

// NewInClusterOrKubeconfigClient builds a kubernetes.Interface using
// in-cluster config when available, falling back to kubeconfigPath.
func NewInClusterOrKubeconfigClient(kubeconfigPath string) (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("build kubernetes config: %w", err)
		}
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes client: %w", err)
	}
	return client, nil
}

// CreateJob submits job to the orchestrator namespace.
func (c *Client) CreateJob(ctx context.Context, job *batchv1.Job) error {
	_, err := c.kube.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create job %q: %w", job.Name, err)
	}
	return nil
}

// CreateNetworkPolicy submits np to the orchestrator namespace.
func (c *Client) CreateNetworkPolicy(ctx context.Context, np *networkingv1.NetworkPolicy) error {
	_, err := c.kube.NetworkingV1().NetworkPolicies(c.namespace).Create(ctx, np, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create network policy %q: %w", np.Name, err)
	}
	return nil
}

// CreateServiceAccount submits sa to the orchestrator namespace.
func (c *Client) CreateServiceAccount(ctx context.Context, sa *corev1.ServiceAccount) error {
	_, err := c.kube.CoreV1().ServiceAccounts(c.namespace).Create(ctx, sa, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create service account %q: %w", sa.Name, err)
	}
	return nil
}

// CreateRole submits role to the orchestrator namespace.
func (c *Client) CreateRole(ctx context.Context, role *rbacv1.Role) error {
	_, err := c.kube.RbacV1().Roles(c.namespace).Create(ctx, role, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create role %q: %w", role.Name, err)
	}
	return nil
}

// CreateRoleBinding submits rb to the orchestrator namespace.
func (c *Client) CreateRoleBinding(ctx context.Context, rb *rbacv1.RoleBinding) error {
	_, err := c.kube.RbacV1().RoleBindings(c.namespace).Create(ctx, rb, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create role binding %q: %w", rb.Name, err)
	}
	return nil
}

// ListPods returns pods in the orchestrator namespace matching labelSelector.
func (c *Client) ListPods(ctx context.Context, labelSelector string) ([]corev1.Pod, error) {
	list, err := c.kube.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, fmt.Errorf("list pods %q: %w", labelSelector, err)
	}
	return list.Items, nil
}
