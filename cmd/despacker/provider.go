package main

import (
	"context"

	"github.com/datavision/des/objstore"
	"github.com/datavision/des/packer"
	"github.com/datavision/des/store"
)

// catalogProvider adapts store.Store + an object-store client to the
// packer.SourceProvider contract (§6.4): claiming is atomic on the
// source side, and the provider is responsible for the source
// object-store GET, not the packer.
type catalogProvider struct {
	meta   *store.Store
	objCl  *objstore.Client
	holder string
}

func (p *catalogProvider) GetPendingFiles(ctx context.Context, shard uint32, limit int) ([]packer.SourceFile, error) {
	rows, err := p.meta.ClaimPending(ctx, shard, limit, p.holder)
	if err != nil {
		return nil, err
	}
	out := make([]packer.SourceFile, 0, len(rows))
	for _, r := range rows {
		if !r.SourceBucket.Valid || !r.SourceKey.Valid || !r.DesName.Valid {
			if failErr := p.meta.MarkCatalogFailed(ctx, []int64{r.ID}, "missing source bucket/key/name"); failErr != nil {
				return nil, failErr
			}
			continue
		}
		data, err := p.objCl.GetFull(ctx, r.SourceBucket.String, r.SourceKey.String)
		if err != nil {
			if failErr := p.meta.MarkCatalogFailed(ctx, []int64{r.ID}, err.Error()); failErr != nil {
				return nil, failErr
			}
			continue
		}
		out = append(out, packer.SourceFile{
			ID:    r.ID,
			Name:  r.DesName.String,
			Bytes: data,
			Meta:  map[string]any{"source_bucket": r.SourceBucket.String, "source_key": r.SourceKey.String},
		})
	}
	return out, nil
}

func (p *catalogProvider) MarkFilesPacked(ctx context.Context, ids []int64, desNames []string, containerID int64) error {
	return p.meta.MarkPacked(ctx, ids, desNames, containerID)
}

func (p *catalogProvider) MarkFilesFailed(ctx context.Context, ids []int64, cause error) error {
	return p.meta.MarkCatalogFailed(ctx, ids, cause.Error())
}
