package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
)

const (
	// minPollInterval and maxPollInterval bound the jittered poll per
	// spec §4.1 ("≥500ms, ≤1.5s").
	minPollInterval = 500 * time.Millisecond
	maxPollInterval = 1500 * time.Millisecond

	// DefaultDiscoveryDeadline is the default total pod-IP discovery
	// timeout (spec §5: "default 30s, minimum 5s").
	DefaultDiscoveryDeadline = 30 * time.Second
	// MinDiscoveryDeadline is the lowest permitted configured deadline.
	MinDiscoveryDeadline = 5 * time.Second
)

// ErrDiscoveryTimeout is returned when no pod reports a non-empty IP before
// the deadline elapses.
var ErrDiscoveryTimeout = errors.New("orchestrator: pod-IP discovery timed out")

// PodIPResult is the outcome of a successful pod-IP discovery.
type PodIPResult struct {
	PodName string
	PodIP   string
}

// WatchPodIP polls ListPods(labelSelector) at a jittered interval until a
// pod reports a non-empty PodIP or deadline elapses. When multiple pods
// report IPs in the same poll, the lexicographically first PodName is
// chosen, so retries (and concurrent observers) converge on the same pod.
func (c *Client) WatchPodIP(ctx context.Context, labelSelector string, deadline time.Duration) (PodIPResult, error) {
	if deadline <= 0 {
		deadline = DefaultDiscoveryDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		pods, err := c.ListPods(ctx, labelSelector)
		if err != nil {
			return PodIPResult{}, err
		}
		if result, ok := firstPodIP(pods); ok {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return PodIPResult{}, fmt.Errorf("%w after %s (selector %q)", ErrDiscoveryTimeout, deadline, labelSelector)
		case <-time.After(jitteredInterval()):
		}
	}
}

// firstPodIP returns the pod with the lexicographically smallest name among
// those that have a non-empty PodIP.
func firstPodIP(pods []corev1.Pod) (PodIPResult, bool) {
	var candidates []corev1.Pod
	for _, p := range pods {
		if p.Status.PodIP != "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return PodIPResult{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Name < candidates[j].Name
	})
	best := candidates[0]
	return PodIPResult{PodName: best.Name, PodIP: best.Status.PodIP}, true
}

func jitteredInterval() time.Duration {
	span := maxPollInterval - minPollInterval
	return minPollInterval + time.Duration(rand.Int63n(int64(span)))
}
