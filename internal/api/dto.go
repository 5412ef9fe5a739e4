package api

import "github.com/openfeeds/feedprovider/internal/feed"

// FeedValuesRequest is the body shared by all three POST endpoints.
type FeedValuesRequest struct {
	Feeds []feed.ID `json:"feeds"`
}

// FeedValuesResponse answers POST /feed-values/.
type FeedValuesResponse struct {
	Data []feed.ValueData `json:"data"`
}

// RoundFeedValuesResponse answers POST /feed-values/{votingRoundId}.
type RoundFeedValuesResponse struct {
	VotingRoundID int              `json:"votingRoundId"`
	Data          []feed.ValueData `json:"data"`
}

// FeedVolumesResponse answers POST /volumes/.
type FeedVolumesResponse struct {
	Data []feed.VolumeData `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}
