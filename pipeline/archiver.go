package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/objectstore"
)

// stageOutputArchiver writes successful stage output to the outputs bucket
// at <project_id>/<stage>/output.json, the location render jobs read from.
type stageOutputArchiver struct {
	client *minio.Client
	bucket string
}

func (a *stageOutputArchiver) ArchiveStageOutput(ctx context.Context, projectID string, stage domain.StageType, output domain.Metadata) error {
	body, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode stage output: %w", err)
	}
	key := projectID + "/" + string(stage) + "/output.json"
	return objectstore.PutJSON(ctx, a.client, a.bucket, key, body)
}
