package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Kubernetes resurrects a module by deleting its pod and waiting for the
// replica controller to reschedule a replacement, then confirming the
// replacement reaches Running. Outbound API calls are guarded by a circuit
// breaker so a struggling API server does not cascade into the dispatcher.
type Kubernetes struct {
	cfg       Config
	client    kubernetes.Interface
	namespace string
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger

	mu      sync.Mutex
	results map[string]ExecutionResult
}

// NewKubernetes builds a Kubernetes executor over an already-constructed
// client (in-cluster or kubeconfig-based construction happens at wiring
// time in cmd/medic-agent, not here).
func NewKubernetes(client kubernetes.Interface, namespace string, cfg Config, logger *zap.Logger) *Kubernetes {
	if namespace == "" {
		namespace = "default"
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = MethodRestart
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 30 * time.Second
	}
	if cfg.StartupGracePeriod <= 0 {
		cfg.StartupGracePeriod = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "executor-kubernetes",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Kubernetes{
		cfg:       cfg,
		client:    client,
		namespace: namespace,
		breaker:   breaker,
		logger:    logger,
		results:   make(map[string]ExecutionResult),
	}
}

func (k *Kubernetes) Resurrect(ctx context.Context, event types.KillEvent, decision types.Decision) (ExecutionResult, error) {
	requestID := uuid.NewString()
	started := time.Now().UTC()

	instanceID := event.TargetInstanceID

	outcome, err := k.breaker.Execute(func() (interface{}, error) {
		if instanceID != "" {
			if delErr := k.client.CoreV1().Pods(k.namespace).Delete(ctx, instanceID, metav1.DeleteOptions{}); delErr != nil && !apierrors.IsNotFound(delErr) {
				return nil, delErr
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(k.cfg.StartupGracePeriod):
		}

		pods, listErr := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("app=%s", event.TargetModule),
		})
		if listErr != nil {
			return nil, listErr
		}

		var running *corev1.Pod
		for i := range pods.Items {
			if pods.Items[i].Status.Phase == corev1.PodRunning {
				running = &pods.Items[i]
				break
			}
		}
		if running == nil {
			all, allErr := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{})
			if allErr != nil {
				return nil, allErr
			}
			for i := range all.Items {
				if all.Items[i].Status.Phase == corev1.PodRunning && strings.Contains(all.Items[i].Name, event.TargetModule) {
					running = &all.Items[i]
					break
				}
			}
		}
		return running, nil
	})

	completed := time.Now().UTC()
	result := ExecutionResult{
		RequestID:   requestID,
		MethodUsed:  k.cfg.DefaultMethod,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}

	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
		if k.logger != nil {
			k.logger.Error("kubernetes resurrection failed", zap.String("request_id", requestID), zap.Error(err))
		}
		k.store(requestID, result)
		return result, nil
	}

	pod, _ := outcome.(*corev1.Pod)
	if pod == nil {
		result.Success = false
		result.ErrorMessage = "new pod not found in Running state"
		k.store(requestID, result)
		return result, nil
	}

	result.Success = true
	result.NewInstanceID = pod.Name
	result.HealthCheckPassed = true
	k.store(requestID, result)
	if k.logger != nil {
		k.logger.Info("kubernetes resurrection completed", zap.String("request_id", requestID), zap.String("new_instance_id", pod.Name))
	}
	return result, nil
}

func (k *Kubernetes) store(requestID string, result ExecutionResult) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.results[requestID] = result
}

func (k *Kubernetes) Rollback(ctx context.Context, requestID, reason string) error {
	k.mu.Lock()
	result, ok := k.results[requestID]
	k.mu.Unlock()
	if !ok || result.NewInstanceID == "" {
		return fmt.Errorf("no resurrected instance to roll back for request %s", requestID)
	}

	_, err := k.breaker.Execute(func() (interface{}, error) {
		return nil, k.client.CoreV1().Pods(k.namespace).Delete(ctx, result.NewInstanceID, metav1.DeleteOptions{})
	})
	if err != nil && k.logger != nil {
		k.logger.Error("kubernetes rollback failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return err
}

func (k *Kubernetes) HealthCheck(ctx context.Context, instanceID string) (bool, bool) {
	pod, err := k.client.CoreV1().Pods(k.namespace).Get(ctx, instanceID, metav1.GetOptions{})
	if err != nil {
		return false, false
	}
	return pod.Status.Phase == corev1.PodRunning, true
}

func (k *Kubernetes) CanResurrect(module string) bool {
	return true
}
