package entitlement

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const MatrixSchemaV1 = "draftforge.entitlements.v1"

// Matrix maps pipeline stages to the minimum tier allowed to run them.
// Stages absent from the matrix require the free tier.
type Matrix struct {
	Schema string          `json:"schema" yaml:"schema"`
	Stages map[string]Tier `json:"stages" yaml:"stages"`
}

// DefaultMatrix mirrors the shipped plan ladder: the first three stages are
// open to everyone, quality, platform polish, and media rendering require
// a paid plan.
func DefaultMatrix() Matrix {
	return Matrix{
		Schema: MatrixSchemaV1,
		Stages: map[string]Tier{
			"plan":      TierFree,
			"structure": TierFree,
			"draft":     TierFree,
			"quality":   TierPersonal,
			"platform":  TierPersonal,
			"render":    TierPersonal,
		},
	}
}

func ParseMatrix(input []byte) (Matrix, error) {
	var m Matrix
	if err := yaml.Unmarshal(input, &m); err != nil {
		return Matrix{}, fmt.Errorf("decode entitlement matrix: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Matrix{}, err
	}
	return m, nil
}

// LoadMatrix reads a matrix from path, falling back to DefaultMatrix when
// path is empty.
func LoadMatrix(path string) (Matrix, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultMatrix(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, fmt.Errorf("read entitlement matrix: %w", err)
	}
	return ParseMatrix(raw)
}

func (m Matrix) Validate() error {
	if strings.TrimSpace(m.Schema) != MatrixSchemaV1 {
		return fmt.Errorf("matrix.schema must be %q", MatrixSchemaV1)
	}
	if len(m.Stages) == 0 {
		return fmt.Errorf("matrix.stages must be non-empty")
	}
	for stage, tier := range m.Stages {
		if strings.TrimSpace(stage) == "" {
			return fmt.Errorf("matrix.stages contains an empty stage name")
		}
		if !tier.Valid() {
			return fmt.Errorf("matrix.stages[%s] has unknown tier %q", stage, tier)
		}
	}
	return nil
}

// RequiredFor returns the minimum tier for stage.
func (m Matrix) RequiredFor(stage string) Tier {
	tier, ok := m.Stages[strings.ToLower(strings.TrimSpace(stage))]
	if !ok {
		return TierFree
	}
	return tier
}
