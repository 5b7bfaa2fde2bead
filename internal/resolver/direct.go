package resolver

import (
	"context"

	"douyindl/internal/consts"
	"douyindl/internal/entity"
	"douyindl/internal/errs"
)

// directStrategy wraps a direct media link without any network call.
type directStrategy struct{}

func (directStrategy) Name() string { return StrategyDirect }

func (directStrategy) Resolve(_ context.Context, target entity.Target) (*entity.MediaDescriptor, error) {
	if !target.Direct {
		return nil, errs.ErrNotApplicable
	}

	return entity.NewMediaDescriptor(target.ResourceID, consts.DirectMediaTitle, consts.UnknownAuthor, 0, 0,
		[]entity.Rendition{{URL: target.URL, Kind: entity.RenditionPlay}}), nil
}
