package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "draftforge",
		SecretKey:     "secret",
		Region:        "us-east-1",
		BucketOutputs: "stage-outputs",
		BucketMedia:   "rendered-media",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	withScheme := valid
	withScheme.Endpoint = "http://localhost:9000"
	if err := withScheme.Validate(); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}

	noBucket := valid
	noBucket.BucketMedia = ""
	if err := noBucket.Validate(); err == nil {
		t.Fatalf("expected error for missing media bucket")
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BucketOutputs != "stage-outputs" {
		t.Fatalf("expected default outputs bucket, got %q", cfg.BucketOutputs)
	}
	if cfg.BucketMedia != "rendered-media" {
		t.Fatalf("expected default media bucket, got %q", cfg.BucketMedia)
	}
}
