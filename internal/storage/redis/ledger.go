package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/goodtune/playlimit/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Append records one period atomically
func (s *Store) Append(ctx context.Context, userID string, minutes int64, at time.Time) error {
	if err := storage.ValidateAppend(userID, minutes); err != nil {
		return err
	}
	if at.IsZero() {
		at = s.now()
	}

	keys := []string{keySequence, userKey(userID), keyUsers}
	args := []interface{}{userID, minutes, at.Unix()}

	return storage.Wrap("append period", s.appendScript.Run(ctx, s.client, keys, args...).Err())
}

// SumSince totals a user's periods with timestamp >= since
func (s *Store) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	members, err := s.client.ZRangeByScore(ctx, userKey(userID), scoreRange(since)).Result()
	if err != nil {
		return 0, storage.Wrap("sum periods", err)
	}

	total, err := sumMembers(members)
	if err != nil {
		return 0, storage.Wrap("sum periods", err)
	}
	return total, nil
}

// GroupedSumSince totals every known user's periods with timestamp >= since
func (s *Store) GroupedSumSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	users, err := s.client.SMembers(ctx, keyUsers).Result()
	if err != nil {
		return nil, storage.Wrap("list period owners", err)
	}

	totals := make(map[string]int64)
	if len(users) == 0 {
		return totals, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(users))
	for i, userID := range users {
		cmds[i] = pipe.ZRangeByScore(ctx, userKey(userID), scoreRange(since))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, storage.Wrap("group periods", err)
	}

	for i, cmd := range cmds {
		members, err := cmd.Result()
		if err != nil {
			return nil, storage.Wrap("group periods", err)
		}
		if len(members) == 0 {
			continue
		}

		total, err := sumMembers(members)
		if err != nil {
			return nil, storage.Wrap("group periods", err)
		}
		totals[users[i]] = total
	}

	return totals, nil
}

func scoreRange(since time.Time) *redis.ZRangeBy {
	return &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}
}
