package feed

import (
	"context"

	"github.com/rs/zerolog/log"
)

// FixedValue is returned for every feed by the fixed provider.
const FixedValue = 0.01

// FixedFeed returns a constant value for all feeds. Useful for protocol
// integration testing where deterministic submissions are needed.
type FixedFeed struct{}

func NewFixedFeed() *FixedFeed {
	log.Warn().Float64("value", FixedValue).Msg("Initializing fixed feed, will return the same value for all feeds")
	return &FixedFeed{}
}

func (f *FixedFeed) GetValue(_ context.Context, id ID) (ValueData, error) {
	v := FixedValue
	return ValueData{Feed: id, Value: &v}, nil
}

func (f *FixedFeed) GetValues(ctx context.Context, ids []ID) ([]ValueData, error) {
	values := make([]ValueData, 0, len(ids))
	for _, id := range ids {
		v, err := f.GetValue(ctx, id)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (f *FixedFeed) GetVolumes(_ context.Context, _ []ID, _ int) ([]VolumeData, error) {
	return []VolumeData{}, nil
}
