package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyip-renewals/internal/config"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	redisclient "github.com/turtacn/keyip-renewals/internal/infrastructure/database/redis"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/idgen"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

type fixedSeq struct {
	id    int64
	err   error
	calls int
}

func (f *fixedSeq) NextBatchID(context.Context) (int64, error) {
	f.calls++
	return f.id, f.err
}

type recordingStore struct {
	events []domainRenewal.MatterEvent
	calls  int
}

func (r *recordingStore) Append(_ context.Context, events ...domainRenewal.MatterEvent) error {
	r.calls++
	r.events = append(r.events, events...)
	return nil
}

func newRedisInfra(t *testing.T) *Infrastructure {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return &Infrastructure{Redis: rc, logger: logging.NewNopLogger()}
}

func TestNewBatchIDGenerator_SQLDefault(t *testing.T) {
	seq := &fixedSeq{id: 5}
	for _, source := range []string{"", "sql", "SQL"} {
		gen, err := NewBatchIDGenerator(context.Background(), config.RenewalConfig{BatchIDSource: source}, nil, seq)
		require.NoError(t, err)
		assert.Same(t, seq, gen)
	}
}

func TestNewBatchIDGenerator_Snowflake(t *testing.T) {
	gen, err := NewBatchIDGenerator(context.Background(), config.RenewalConfig{BatchIDSource: "snowflake", SnowflakeNode: 3}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &idgen.Snowflake{}, gen)

	a, err := gen.NextBatchID(context.Background())
	require.NoError(t, err)
	b, err := gen.NextBatchID(context.Background())
	require.NoError(t, err)
	assert.Greater(t, b, a)

	_, err = NewBatchIDGenerator(context.Background(), config.RenewalConfig{BatchIDSource: "snowflake", SnowflakeNode: 5000}, nil, nil)
	assert.Error(t, err)
}

func TestNewBatchIDGenerator_RedisSeededFromSQL(t *testing.T) {
	infra := newRedisInfra(t)
	sql := &fixedSeq{id: 41}

	gen, err := NewBatchIDGenerator(context.Background(), config.RenewalConfig{BatchIDSource: "redis"}, infra, sql)
	require.NoError(t, err)
	assert.Equal(t, 1, sql.calls)

	id, err := gen.NextBatchID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestNewBatchIDGenerator_RedisErrors(t *testing.T) {
	_, err := NewBatchIDGenerator(context.Background(), config.RenewalConfig{BatchIDSource: "redis"}, &Infrastructure{}, nil)
	assert.ErrorContains(t, err, "redis is disabled")

	infra := newRedisInfra(t)
	_, err = NewBatchIDGenerator(context.Background(), config.RenewalConfig{BatchIDSource: "redis"}, infra, &fixedSeq{err: errors.New("down")})
	assert.ErrorContains(t, err, "read sql floor")
}

func TestNewBatchIDGenerator_Unknown(t *testing.T) {
	_, err := NewBatchIDGenerator(context.Background(), config.RenewalConfig{BatchIDSource: "uuid"}, nil, nil)
	assert.ErrorContains(t, err, `unknown source "uuid"`)
}

func TestStoreSink(t *testing.T) {
	store := &recordingStore{}
	sink := StoreSink{Store: store}

	require.NoError(t, sink.Publish(context.Background()))
	assert.Zero(t, store.calls)

	ev := domainRenewal.MatterEvent{MatterID: 9}
	require.NoError(t, sink.Publish(context.Background(), ev, ev))
	assert.Equal(t, 1, store.calls)
	assert.Len(t, store.events, 2)
}

func TestFeeCalculatorConfig(t *testing.T) {
	got := FeeCalculatorConfig(config.RenewalConfig{GraceSurchargeFactor: 1.5, DefaultVATRate: 0.2, SendConcurrency: 4})
	assert.Equal(t, "1.5", got.GraceSurchargeFactor.String())
	assert.Equal(t, "0.2", got.DefaultVATRate.String())
	assert.Equal(t, 8, got.Concurrency)
}

func TestInfrastructure_HealthCheckers(t *testing.T) {
	infra := newRedisInfra(t)
	checks := infra.HealthCheckers()
	require.Len(t, checks, 1)
	assert.Equal(t, "redis", checks[0].Name())
	assert.NoError(t, checks[0].Check(context.Background()))

	assert.Empty(t, (&Infrastructure{}).HealthCheckers())
}

func TestAppMetrics_NilStaysNil(t *testing.T) {
	assert.Nil(t, AppMetrics(nil))
}

func TestMetricsFromConfig_Disabled(t *testing.T) {
	c, m, err := MetricsFromConfig(config.MetricsConfig{}, "renewal-api", logging.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Nil(t, m)
}
