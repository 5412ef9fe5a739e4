package feed

import (
	"context"
	"math/rand"
)

// RandomBaseValue is scaled by Uniform(0.5, 1.5) per query.
const RandomBaseValue = 0.05

// RandomFeed returns a randomized value around a fixed base for all feeds.
type RandomFeed struct{}

func NewRandomFeed() *RandomFeed {
	return &RandomFeed{}
}

func (f *RandomFeed) GetValue(_ context.Context, id ID) (ValueData, error) {
	v := RandomBaseValue * (0.5 + rand.Float64())
	return ValueData{Feed: id, Value: &v}, nil
}

func (f *RandomFeed) GetValues(ctx context.Context, ids []ID) ([]ValueData, error) {
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

func (f *RandomFeed) GetVolumes(_ context.Context, _ []ID, _ int) ([]VolumeData, error) {
	return []VolumeData{}, nil
}
