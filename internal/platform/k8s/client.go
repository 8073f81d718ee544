package k8s

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/draftforge-labs/draftforge-go/internal/platform/env"
)

const (
	defaultTokenFile     = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	defaultNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	defaultCAFile        = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

var (
	ErrNotFound      = errors.New("kubernetes resource not found")
	ErrAlreadyExists = errors.New("kubernetes resource already exists")
	ErrUnauthorized  = errors.New("kubernetes request unauthorized")
	ErrForbidden     = errors.New("kubernetes request forbidden")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("kubernetes api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("kubernetes api error (status=%d): %s", e.StatusCode, body)
}

// Client talks to the Kubernetes batch API directly over HTTP. It carries
// just enough surface for submitting render jobs and reading them back.
type Client struct {
	baseURL   string
	token     string
	namespace string
	http      *http.Client
}

// Config controls how the client reaches the API server. Empty fields fall
// back to the in-cluster serviceaccount mount.
type Config struct {
	BaseURL   string
	Token     string
	TokenFile string
	Namespace string
	CAFile    string
	Insecure  bool
	Timeout   time.Duration
}

func ConfigFromEnv() (Config, error) {
	insecure, err := env.Bool("RENDER_K8S_INSECURE", false)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("RENDER_K8S_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	return Config{
		BaseURL:   env.String("RENDER_K8S_BASE_URL", ""),
		Token:     env.String("RENDER_K8S_TOKEN", ""),
		TokenFile: env.String("RENDER_K8S_TOKEN_FILE", ""),
		Namespace: env.String("RENDER_K8S_NAMESPACE", ""),
		CAFile:    env.String("RENDER_K8S_CA_FILE", ""),
		Insecure:  insecure,
		Timeout:   timeout,
	}, nil
}

// NewClient builds a client from cfg, reading any unset credential from the
// in-cluster serviceaccount files.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		host := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_HOST"))
		port := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_PORT"))
		baseURL = "https://kubernetes.default.svc"
		if host != "" {
			if port == "" {
				port = "443"
			}
			baseURL = "https://" + host + ":" + port
		}
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		tokenFile := strings.TrimSpace(cfg.TokenFile)
		if tokenFile == "" {
			tokenFile = defaultTokenFile
		}
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read serviceaccount token: %w", err)
		}
		token = strings.TrimSpace(string(tokenBytes))
	}
	if token == "" {
		return nil, errors.New("kubernetes token is empty")
	}

	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespaceBytes, err := os.ReadFile(defaultNamespaceFile)
		if err != nil {
			return nil, fmt.Errorf("read serviceaccount namespace: %w", err)
		}
		namespace = strings.TrimSpace(string(namespaceBytes))
	}
	if namespace == "" {
		return nil, errors.New("kubernetes namespace is empty")
	}

	transport := &http.Transport{}
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	} else if strings.HasPrefix(baseURL, "https://") {
		caFile := strings.TrimSpace(cfg.CAFile)
		if caFile == "" {
			caFile = defaultCAFile
		}
		caBytes, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read api server ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("invalid api server ca bundle")
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		namespace: namespace,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}, nil
}

func (c *Client) Namespace() string {
	return c.namespace
}

func (c *Client) CreateJob(ctx context.Context, namespace string, job Job) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = c.namespace
	}
	job.APIVersion = "batch/v1"
	job.Kind = "Job"
	job.Metadata.Namespace = namespace

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	path := fmt.Sprintf("/apis/batch/v1/namespaces/%s/jobs", namespace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) GetJob(ctx context.Context, namespace string, name string) (Job, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = c.namespace
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Job{}, errors.New("job name is required")
	}
	path := fmt.Sprintf("/apis/batch/v1/namespaces/%s/jobs/%s", namespace, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return Job{}, err
	}
	var out Job
	if err := c.do(req, &out); err != nil {
		return Job{}, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode kubernetes response: %w", err)
		}
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}
