package orchestrator

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func podWithIP(name, ip string, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ws-cli", Labels: labels},
		Status:     corev1.PodStatus{PodIP: ip},
	}
}

func TestWatchPodIPReturnsFirstObservedIP(t *testing.T) {
	labels := map[string]string{"session": "abc"}
	kube := fake.NewSimpleClientset(podWithIP("pod-a", "10.0.0.5", labels))
	c := NewClient(kube, "ws-cli")

	result, err := c.WatchPodIP(context.Background(), "session=abc", time.Second)
	if err != nil {
		t.Fatalf("WatchPodIP: %v", err)
	}
	if result.PodIP != "10.0.0.5" || result.PodName != "pod-a" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWatchPodIPTieBreaksLexicographically(t *testing.T) {
	labels := map[string]string{"session": "abc"}
	kube := fake.NewSimpleClientset(
		podWithIP("pod-z", "10.0.0.9", labels),
		podWithIP("pod-a", "10.0.0.5", labels),
	)
	c := NewClient(kube, "ws-cli")

	result, err := c.WatchPodIP(context.Background(), "session=abc", time.Second)
	if err != nil {
		t.Fatalf("WatchPodIP: %v", err)
	}
	if result.PodName != "pod-a" || result.PodIP != "10.0.0.5" {
		t.Fatalf("expected lexicographically first pod-a, got %+v", result)
	}
}

func TestWatchPodIPIgnoresPodsWithoutIP(t *testing.T) {
	labels := map[string]string{"session": "abc"}
	kube := fake.NewSimpleClientset(podWithIP("pod-no-ip", "", labels))
	c := NewClient(kube, "ws-cli")

	_, err := c.WatchPodIP(context.Background(), "session=abc", 1500*time.Millisecond)
	if err == nil {
		t.Fatal("expected discovery timeout when no pod has an IP")
	}
}

func TestWatchPodIPDeadlineExceeded(t *testing.T) {
	kube := fake.NewSimpleClientset()
	c := NewClient(kube, "ws-cli")

	start := time.Now()
	_, err := c.WatchPodIP(context.Background(), "session=missing", 600*time.Millisecond)
	if err == nil {
		t.Fatal("expected discovery timeout")
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Fatalf("returned too early: %s", elapsed)
	}
}
