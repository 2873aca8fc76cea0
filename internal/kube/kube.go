package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"bootstrapctl/pkg/logging"
)

// defaultPollInterval is how often readiness waits re-list pods.
const defaultPollInterval = 3 * time.Second

// Client wraps a Kubernetes clientset for the readiness gates and namespace
// management the bootstrap needs.
type Client struct {
	clientset    kubernetes.Interface
	pollInterval time.Duration
}

// NewClient builds a Client from the default kubeconfig loading rules. The
// cluster provisioner leaves the current context pointing at the new cluster.
func NewClient() (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	config, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes client config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}
	return &Client{clientset: clientset, pollInterval: defaultPollInterval}, nil
}

// NewFromClientset wraps an existing clientset. Used by tests with a fake.
func NewFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset, pollInterval: 10 * time.Millisecond}
}

// WaitForPodsRunning blocks until every pod matching the label selector in
// the namespace reports phase Running, or the timeout expires. At least one
// matching pod must exist. A pod can be Running without having passed its own
// initialization; use WaitForPodsReady for the stronger gate.
func (c *Client) WaitForPodsRunning(ctx context.Context, namespace, labelSelector string, timeout time.Duration) error {
	logging.Info("kube", "Waiting for pods in %s (%s) to be running...", namespace, labelSelector)
	return c.waitForPods(ctx, namespace, labelSelector, timeout, "running", func(pod corev1.Pod) bool {
		return pod.Status.Phase == corev1.PodRunning
	})
}

// WaitForPodsReady blocks until every pod matching the label selector in the
// namespace reports the Ready condition, or the timeout expires.
func (c *Client) WaitForPodsReady(ctx context.Context, namespace, labelSelector string, timeout time.Duration) error {
	logging.Info("kube", "Waiting for pods in %s (%s) to be ready...", namespace, labelSelector)
	return c.waitForPods(ctx, namespace, labelSelector, timeout, "ready", podIsReady)
}

func (c *Client) waitForPods(ctx context.Context, namespace, labelSelector string, timeout time.Duration, goal string, matches func(corev1.Pod) bool) error {
	err := wait.PollUntilContextTimeout(ctx, c.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
		if err != nil {
			// Transient API errors are tolerated until the timeout.
			logging.Debug("kube", "Pod list failed, retrying: %v", err)
			return false, nil
		}
		if len(pods.Items) == 0 {
			return false, nil
		}
		for _, pod := range pods.Items {
			if !matches(pod) {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("timed out waiting for pods in %s (%s) to be %s: %w", namespace, labelSelector, goal, err)
	}
	return nil
}

func podIsReady(pod corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// EnsureNamespace creates a namespace if it does not exist (idempotent).
func (c *Client) EnsureNamespace(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("namespace name is empty")
	}

	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("get namespace %s: %w", name, err)
	}

	_, err = c.clientset.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("create namespace %s: %w", name, err)
	}
	return nil
}
