package render

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/k8s"
)

func newBackend(t *testing.T, handler http.Handler) *KubernetesBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := k8s.NewClient(k8s.Config{
		BaseURL:   srv.URL,
		Token:     "test-token",
		Namespace: "render",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	backend, err := NewKubernetesBackend(client, KubernetesBackendConfig{
		Image:         "draftforge/renderer:latest",
		OutputBaseURL: "s3://rendered-media",
	})
	if err != nil {
		t.Fatalf("NewKubernetesBackend: %v", err)
	}
	return backend
}

func TestKubernetesBackendSubmit(t *testing.T) {
	var got k8s.Job
	backend := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode job: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	ref, err := backend.Submit(context.Background(), Spec{
		JobID:     "abc",
		ProjectID: "proj-1",
		SourceURL: "s3://outputs/proj-1/draft.json",
		Params:    domain.Metadata{"format": "short"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ref != "render-abc" {
		t.Fatalf("ref = %q", ref)
	}
	if got.Metadata.Labels["draftforge.render_job_id"] != "abc" {
		t.Fatalf("labels = %v", got.Metadata.Labels)
	}
	env := got.Spec.Template.Spec.Containers[0].Env
	found := false
	for _, v := range env {
		if v.Name == "RENDER_PARAM_FORMAT" && v.Value == "short" {
			found = true
		}
	}
	if !found {
		t.Fatalf("render params not passed to container: %v", env)
	}
}

func TestKubernetesBackendSubmitIdempotent(t *testing.T) {
	backend := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	ref, err := backend.Submit(context.Background(), Spec{JobID: "abc", ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("Submit on existing job: %v", err)
	}
	if ref != "render-abc" {
		t.Fatalf("ref = %q", ref)
	}
}

func TestKubernetesBackendInspect(t *testing.T) {
	cases := []struct {
		name   string
		job    k8s.Job
		state  string
		output string
	}{
		{
			name:  "pending",
			job:   k8s.Job{},
			state: "pending",
		},
		{
			name:  "active",
			job:   k8s.Job{Status: k8s.JobStatus{Active: 1}},
			state: "active",
		},
		{
			name: "complete",
			job: k8s.Job{Status: k8s.JobStatus{
				Conditions: []k8s.JobCondition{{Type: "Complete", Status: "True"}},
			}},
			state:  "complete",
			output: "s3://rendered-media/render-abc/output.mp4",
		},
		{
			name: "failed",
			job: k8s.Job{Status: k8s.JobStatus{
				Conditions: []k8s.JobCondition{{Type: "Failed", Status: "True", Reason: "DeadlineExceeded"}},
			}},
			state: "failed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(tc.job)
			}))
			obs, err := backend.Inspect(context.Background(), "render-abc")
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if obs.State != tc.state {
				t.Fatalf("state = %q, want %q", obs.State, tc.state)
			}
			if obs.OutputURL != tc.output {
				t.Fatalf("output url = %q, want %q", obs.OutputURL, tc.output)
			}
		})
	}
}

func TestKubernetesBackendInspectNotFound(t *testing.T) {
	backend := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	if _, err := backend.Inspect(context.Background(), "render-gone"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}
