package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/pkg/errors"
)

// batchSequenceKey is the counter holding the last issued batch id.
const batchSequenceKey = "seq:renewal_batch"

var seedScript = redis.NewScript(`
	local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
	if cur < tonumber(ARGV[1]) then
		redis.call("SET", KEYS[1], ARGV[1])
	end
	return 1
`)

// Sequence issues transition batch ids from an INCR counter shared by every
// process talking to the same Redis.
type Sequence struct {
	client *Client
	key    string
}

// NewSequence returns a Sequence over the renewal batch counter.
func NewSequence(client *Client) *Sequence {
	return &Sequence{client: client, key: client.Key(batchSequenceKey)}
}

var _ domainRenewal.BatchIDGenerator = (*Sequence)(nil)

func (s *Sequence) NextBatchID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeCacheError, "failed to allocate batch id")
	}
	return id, nil
}

// Seed moves the counter forward to at least floor, so ids issued after a
// switch from another generator never collide with older batches.
func (s *Sequence) Seed(ctx context.Context, floor int64) error {
	err := seedScript.Run(ctx, s.client.GetUnderlyingClient(), []string{s.key}, floor).Err()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to seed batch sequence")
	}
	return nil
}
