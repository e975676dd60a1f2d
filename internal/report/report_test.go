package report

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/tetherproxy/internal/clients"
	"github.com/die-net/tetherproxy/internal/metrics"
)

func TestMulti(t *testing.T) {
	var got []ByteTransferReport
	collect := SinkFunc(func(_ context.Context, _ Session, r ByteTransferReport) {
		got = append(got, r)
	})

	Multi(collect, nil, Discard, collect).Report(context.Background(), Session{}, ByteTransferReport{ProxyToInternet: 3})
	assert.Len(t, got, 2)
}

func TestTotals(t *testing.T) {
	m := clients.NewManager(clients.ManagerConfig{})
	c := m.Seen(clients.FromIP(netip.MustParseAddr("10.0.0.9")))

	sink := Totals(m)
	sink.Report(context.Background(), Session{Client: c}, ByteTransferReport{ProxyToInternet: 10, InternetToProxy: 20})
	sink.Report(context.Background(), Session{Client: c}, ByteTransferReport{})
	sink.Report(context.Background(), Session{Client: c}, ByteTransferReport{ProxyToInternet: 1})

	got := m.Clients()
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].ToInternet)
	assert.Equal(t, int64(20), got[0].FromInternet)
}

func TestPrometheus(t *testing.T) {
	up := metrics.BytesTotal.WithLabelValues(metrics.DirectionToInternet)
	down := metrics.BytesTotal.WithLabelValues(metrics.DirectionFromInternet)
	beforeUp, beforeDown := testutil.ToFloat64(up), testutil.ToFloat64(down)

	Prometheus.Report(context.Background(), Session{}, ByteTransferReport{ProxyToInternet: 7, InternetToProxy: 9})

	assert.Equal(t, beforeUp+7, testutil.ToFloat64(up))
	assert.Equal(t, beforeDown+9, testutil.ToFloat64(down))
}

type fakeRedis struct {
	incr    map[string]int64
	expires map[string]time.Duration
	err     error
}

func (f *fakeRedis) HIncrBy(_ context.Context, key, field string, incr int64) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.incr[key+"/"+field] += incr
	return redis.NewIntResult(f.incr[key+"/"+field], nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestRedisSink(t *testing.T) {
	fr := &fakeRedis{incr: map[string]int64{}, expires: map[string]time.Duration{}}
	s := newRedisSink(fr, "", time.Hour)
	sess := Session{Client: clients.FromIP(netip.MustParseAddr("10.0.0.9"))}

	s.Report(context.Background(), sess, ByteTransferReport{ProxyToInternet: 5, InternetToProxy: 6})
	s.Report(context.Background(), sess, ByteTransferReport{InternetToProxy: 4})
	s.Report(context.Background(), sess, ByteTransferReport{})

	assert.Equal(t, int64(5), fr.incr["tetherproxy:transfer:10.0.0.9/to_internet"])
	assert.Equal(t, int64(10), fr.incr["tetherproxy:transfer:10.0.0.9/from_internet"])
	assert.Equal(t, time.Hour, fr.expires["tetherproxy:transfer:10.0.0.9"])

	fr.err = errors.New("down")
	fr.expires = map[string]time.Duration{}
	s.Report(context.Background(), sess, ByteTransferReport{ProxyToInternet: 1})
	assert.Empty(t, fr.expires, "no expire after a failed write")
}
