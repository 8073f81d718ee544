package render

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/k8s"
)

// KubernetesBackend renders media by launching one batch job per render.
// Job names derive from the render job id, which makes resubmission a
// no-op on the AlreadyExists path.
type KubernetesBackend struct {
	client         *k8s.Client
	namespace      string
	image          string
	serviceAccount string
	ttlSeconds     int32
	outputBaseURL  string
}

type KubernetesBackendConfig struct {
	Namespace      string
	Image          string
	ServiceAccount string
	TTLSeconds     int32

	// OutputBaseURL is where the renderer container writes finished
	// media. Completed jobs report <base>/<ref>/output.mp4.
	OutputBaseURL string
}

func NewKubernetesBackend(client *k8s.Client, cfg KubernetesBackendConfig) (*KubernetesBackend, error) {
	if client == nil {
		return nil, errors.New("k8s client is required")
	}
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = strings.TrimSpace(client.Namespace())
	}
	if namespace == "" {
		return nil, errors.New("render namespace is required")
	}
	if strings.TrimSpace(cfg.Image) == "" {
		return nil, errors.New("render image is required")
	}
	if cfg.TTLSeconds < 0 {
		return nil, errors.New("job ttl must be non-negative")
	}
	return &KubernetesBackend{
		client:         client,
		namespace:      namespace,
		image:          strings.TrimSpace(cfg.Image),
		serviceAccount: strings.TrimSpace(cfg.ServiceAccount),
		ttlSeconds:     cfg.TTLSeconds,
		outputBaseURL:  strings.TrimRight(strings.TrimSpace(cfg.OutputBaseURL), "/"),
	}, nil
}

func jobNameFor(jobID string) string {
	return "render-" + strings.ToLower(strings.TrimSpace(jobID))
}

func (b *KubernetesBackend) Submit(ctx context.Context, spec Spec) (string, error) {
	if strings.TrimSpace(spec.JobID) == "" {
		return "", errors.New("render job id is required")
	}
	if strings.TrimSpace(spec.ProjectID) == "" {
		return "", errors.New("project id is required")
	}
	jobName := jobNameFor(spec.JobID)

	labels := map[string]string{
		"app.kubernetes.io/name":      "draftforge-renderer",
		"app.kubernetes.io/component": "render-job",
		"draftforge.render_job_id":    spec.JobID,
	}

	container := k8s.Container{
		Name:  "renderer",
		Image: b.image,
		Env: []k8s.EnvVar{
			{Name: "RENDER_JOB_ID", Value: spec.JobID},
			{Name: "PROJECT_ID", Value: spec.ProjectID},
			{Name: "SOURCE_URL", Value: spec.SourceURL},
		},
	}
	if len(spec.Params) > 0 {
		keys := make([]string, 0, len(spec.Params))
		for k := range spec.Params {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			container.Env = append(container.Env, k8s.EnvVar{
				Name:  "RENDER_PARAM_" + strings.ToUpper(key),
				Value: fmt.Sprint(spec.Params[key]),
			})
		}
	}

	podSpec := k8s.PodSpec{
		RestartPolicy: "Never",
		Containers:    []k8s.Container{container},
	}
	if b.serviceAccount != "" {
		podSpec.ServiceAccountName = b.serviceAccount
	}

	backoff := int32(0)
	var ttl *int32
	if b.ttlSeconds > 0 {
		ttl = &b.ttlSeconds
	}

	job := k8s.Job{
		Metadata: k8s.ObjectMeta{
			Name:      jobName,
			Namespace: b.namespace,
			Labels:    labels,
		},
		Spec: k8s.JobSpec{
			BackoffLimit: &backoff,
			Template: k8s.PodTemplateSpec{
				Metadata: k8s.ObjectMeta{Labels: labels},
				Spec:     podSpec,
			},
			TTLSecondsAfterFinished: ttl,
		},
	}

	err := b.client.CreateJob(ctx, b.namespace, job)
	if err == nil || errors.Is(err, k8s.ErrAlreadyExists) {
		return jobName, nil
	}
	return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (b *KubernetesBackend) Inspect(ctx context.Context, ref string) (Observation, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Observation{}, errors.New("backend ref is required")
	}

	job, err := b.client.GetJob(ctx, b.namespace, ref)
	if err != nil {
		if errors.Is(err, k8s.ErrNotFound) {
			return Observation{}, ErrJobNotFound
		}
		return Observation{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Report the job in batch/v1 vocabulary; the tracker maps it onto
	// the canonical statuses.
	state := "pending"
	message := ""
	if cond, ok := findJobCondition(job.Status.Conditions, "Failed"); ok && strings.EqualFold(cond.Status, "True") {
		state = "failed"
		message = conditionMessage(cond)
	} else if cond, ok := findJobCondition(job.Status.Conditions, "Complete"); ok && strings.EqualFold(cond.Status, "True") {
		state = "complete"
		message = conditionMessage(cond)
	} else if job.Status.Active > 0 {
		state = "active"
	}

	outputURL := ""
	if state == "complete" && b.outputBaseURL != "" {
		outputURL = b.outputBaseURL + "/" + ref + "/output.mp4"
	}

	return Observation{
		State:     state,
		OutputURL: outputURL,
		Message:   message,
		Details: domain.Metadata{
			"k8s_namespace": b.namespace,
			"k8s_job_name":  ref,
			"active":        job.Status.Active,
			"succeeded":     job.Status.Succeeded,
			"failed":        job.Status.Failed,
		},
	}, nil
}

func findJobCondition(conditions []k8s.JobCondition, condType string) (k8s.JobCondition, bool) {
	for _, cond := range conditions {
		if strings.EqualFold(cond.Type, condType) {
			return cond, true
		}
	}
	return k8s.JobCondition{}, false
}

func conditionMessage(cond k8s.JobCondition) string {
	message := strings.TrimSpace(cond.Message)
	if message == "" {
		message = strings.TrimSpace(cond.Reason)
	}
	return message
}
