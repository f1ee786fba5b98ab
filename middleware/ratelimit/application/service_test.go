package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var base = time.Unix(1_700_000_000, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration) {
	c.mu.Lock()
	c.now = base.Add(offset)
	c.mu.Unlock()
}

type errStore struct {
	mu    sync.Mutex
	calls int
}

func (s *errStore) CountAndRecord(context.Context, domain.Key, time.Duration, time.Time) (domain.WindowResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return domain.WindowResult{}, domain.ErrBackendUnavailable
}

func (s *errStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testLimits() domain.TierLimits {
	return domain.TierLimits{
		domain.TierFree:      3,
		domain.TierBasic:     5,
		domain.TierPremium:   10,
		domain.TierUnlimited: 20,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(clock *fakeClock, local, remote domain.WindowStore) Service {
	return Service{
		Identifier: NewIdentifier([]string{"10.9.9.9"}, nil),
		Limits:     testLimits(),
		Window:     60 * time.Second,
		Local:      local,
		Remote:     remote,
		Now:        clock.Now,
		Logger:     quietLogger(),
	}
}

func newRedisStore(t *testing.T) *infra.RedisWindowStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return infra.NewRedisWindowStore(rdb)
}

// silentRedis aceita conexões e nunca responde, como um Redis travado.
func silentRedis(t *testing.T) infra.RedisClientConfig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})

	return infra.RedisClientConfig{
		Host:          "127.0.0.1",
		Port:          ln.Addr().(*net.TCPAddr).Port,
		SocketTimeout: 2 * time.Second,
	}
}

// backends devolve um Service por backend: local puro e remoto (miniredis).
func backends(t *testing.T, clock *fakeClock) map[string]Service {
	return map[string]Service{
		"local":  newService(clock, infra.NewMemoryWindowStore(), nil),
		"remote": newService(clock, nil, newRedisStore(t)),
	}
}

var caller = domain.RequestMeta{Addr: "10.0.0.1"}

func TestService_Check_ConcreteScenario(t *testing.T) {
	for name, svc := range backends(t, &fakeClock{}) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{}
			svc.Now = clock.Now

			for i, sec := range []int{0, 1, 2} {
				clock.Set(time.Duration(sec) * time.Second)
				dec := svc.Check(context.Background(), caller)
				if !dec.Allowed {
					t.Fatalf("request at t=%d should be admitted", sec)
				}
				if dec.Count != i+1 {
					t.Fatalf("expected count %d at t=%d, got %d", i+1, sec, dec.Count)
				}
				if dec.Tier != domain.TierFree || dec.Limit != 3 {
					t.Fatalf("expected free/3, got %s/%d", dec.Tier, dec.Limit)
				}
			}

			clock.Set(3 * time.Second)
			dec := svc.Check(context.Background(), caller)
			if dec.Allowed {
				t.Fatalf("request at t=3 should be rejected")
			}
			if dec.RetryAfter != 57*time.Second {
				t.Fatalf("expected RetryAfter=57s, got %s", dec.RetryAfter)
			}
			if got := dec.ResetAt(); !got.Equal(base.Add(60 * time.Second)) {
				t.Fatalf("expected reset at t=60, got %s", got)
			}

			clock.Set(61 * time.Second)
			if dec := svc.Check(context.Background(), caller); !dec.Allowed {
				t.Fatalf("request at t=61 should be admitted again")
			}
		})
	}
}

func TestService_Check_AdmitsExactlyLimitPerWindow(t *testing.T) {
	clock := &fakeClock{}
	for name, svc := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			clock.Set(0)
			for i := 1; i <= 10; i++ {
				clock.Set(time.Duration(i) * 100 * time.Millisecond)
				dec := svc.Check(context.Background(), domain.RequestMeta{Addr: "10.0.0.2"})
				if want := i <= 3; dec.Allowed != want {
					t.Fatalf("request %d: expected allowed=%v, got %v", i, want, dec.Allowed)
				}
			}
		})
	}
}

func TestService_Check_WindowSlides(t *testing.T) {
	clock := &fakeClock{}
	for name, svc := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			meta := domain.RequestMeta{Addr: "10.0.0.3"}
			for i := 0; i < 3; i++ {
				clock.Set(time.Duration(i) * time.Millisecond)
				if !svc.Check(context.Background(), meta).Allowed {
					t.Fatalf("burst request %d should be admitted", i)
				}
			}

			clock.Set(2*time.Millisecond + 60*time.Second)
			if !svc.Check(context.Background(), meta).Allowed {
				t.Fatalf("expected request after a full window to be admitted")
			}
		})
	}
}

func TestService_Check_RetryAfterDecreases(t *testing.T) {
	clock := &fakeClock{}
	for name, svc := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			meta := domain.RequestMeta{Addr: "10.0.0.4"}
			for i := 0; i < 3; i++ {
				clock.Set(time.Duration(i) * time.Second)
				svc.Check(context.Background(), meta)
			}

			prev := time.Duration(1 << 62)
			for _, sec := range []int{10, 20, 30, 45, 59, 60, 61} {
				clock.Set(time.Duration(sec) * time.Second)
				dec := svc.Check(context.Background(), meta)
				if dec.Allowed {
					t.Fatalf("t=%d: expected rejection", sec)
				}
				if dec.RetryAfter < time.Second {
					t.Fatalf("t=%d: RetryAfter must be >= 1s, got %s", sec, dec.RetryAfter)
				}
				if dec.RetryAfter >= prev && dec.RetryAfter != time.Second {
					t.Fatalf("t=%d: RetryAfter should decrease, got %s after %s", sec, dec.RetryAfter, prev)
				}
				prev = dec.RetryAfter
			}
		})
	}
}

func TestService_Check_SameInstantOnlyCountGrows(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(0)
	svc := newService(clock, infra.NewMemoryWindowStore(), nil)
	meta := domain.RequestMeta{Addr: "10.0.0.5"}

	var got []bool
	for i := 0; i < 5; i++ {
		dec := svc.Check(context.Background(), meta)
		if dec.Count != i+1 {
			t.Fatalf("expected count %d, got %d", i+1, dec.Count)
		}
		got = append(got, dec.Allowed)
	}
	want := []bool{true, true, true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestService_Check_FallbackMatchesLocal(t *testing.T) {
	clockA, clockB := &fakeClock{}, &fakeClock{}
	remote := &errStore{}
	withFallback := newService(clockA, infra.NewMemoryWindowStore(), remote)
	localOnly := newService(clockB, infra.NewMemoryWindowStore(), nil)

	offsets := []time.Duration{0, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond,
		2 * time.Second, 30 * time.Second, 61 * time.Second, 62 * time.Second, 120 * time.Second}
	for _, off := range offsets {
		clockA.Set(off)
		clockB.Set(off)
		a := withFallback.Check(context.Background(), caller)
		b := localOnly.Check(context.Background(), caller)
		if a.Allowed != b.Allowed || a.RetryAfter != b.RetryAfter || a.Count != b.Count {
			t.Fatalf("t=%s: fallback %+v differs from local %+v", off, a, b)
		}
		if a.Backend != domain.BackendLocal {
			t.Fatalf("t=%s: expected local backend, got %s", off, a.Backend)
		}
	}
	if remote.Calls() != len(offsets) {
		t.Fatalf("without health tracking remote should be tried every call, got %d", remote.Calls())
	}
}

func TestService_Check_UnhealthyRemoteIsRetriedPeriodically(t *testing.T) {
	clock := &fakeClock{}
	remote := &errStore{}
	svc := newService(clock, infra.NewMemoryWindowStore(), remote)
	svc.Health = NewRemoteHealth(5 * time.Second)

	clock.Set(0)
	svc.Check(context.Background(), caller)
	if remote.Calls() != 1 || !svc.Health.Down() {
		t.Fatalf("expected one remote call and remote marked down, calls=%d", remote.Calls())
	}

	clock.Set(time.Second)
	svc.Check(context.Background(), caller)
	if remote.Calls() != 1 {
		t.Fatalf("remote should be skipped while down, calls=%d", remote.Calls())
	}

	clock.Set(6 * time.Second)
	svc.Check(context.Background(), caller)
	if remote.Calls() != 2 {
		t.Fatalf("remote should be retried after retry interval, calls=%d", remote.Calls())
	}
}

func TestService_Check_RemoteRecovers(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(0)
	svc := newService(clock, infra.NewMemoryWindowStore(), newRedisStore(t))
	svc.Health = NewRemoteHealth(time.Second)
	svc.Health.MarkDown(clock.Now())

	clock.Set(2 * time.Second)
	dec := svc.Check(context.Background(), caller)
	if dec.Backend != domain.BackendRemote {
		t.Fatalf("expected retry to hit remote, got %s", dec.Backend)
	}
	if svc.Health.Down() {
		t.Fatalf("expected remote marked up after successful retry")
	}
}

func TestService_Check_BusyRemoteUsesLocalWithoutMarkingDown(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(0)
	pool := infra.NewChanPool(1)
	release, ok := pool.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected to acquire the only slot")
	}
	defer release()

	remote := &errStore{}
	svc := newService(clock, infra.NewMemoryWindowStore(), remote)
	svc.Health = NewRemoteHealth(time.Minute)
	svc.RemoteGate = RemoteGate{Pool: pool, Wait: 5 * time.Millisecond}

	dec := svc.Check(context.Background(), caller)
	if !dec.Allowed || dec.Backend != domain.BackendLocal {
		t.Fatalf("expected local admission, got %+v", dec)
	}
	if remote.Calls() != 0 {
		t.Fatalf("remote must not be called without a slot")
	}
	if svc.Health.Down() {
		t.Fatalf("a busy pool is not a remote failure")
	}
}

func TestService_Check_HungRemoteFallsBackWithinCallTimeout(t *testing.T) {
	rdb := infra.NewRedisClient(silentRedis(t))
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{}
	clock.Set(0)
	svc := newService(clock, infra.NewMemoryWindowStore(), infra.NewRedisWindowStore(rdb))
	svc.RemoteTimeout = 100 * time.Millisecond
	svc.Health = NewRemoteHealth(time.Minute)

	start := time.Now()
	dec := svc.Check(context.Background(), caller)
	took := time.Since(start)

	if !dec.Allowed || dec.Backend != domain.BackendLocal {
		t.Fatalf("expected local admission, got %+v", dec)
	}
	// o socket timeout é 2s; só o timeout por chamada explica voltar antes
	if took > time.Second {
		t.Fatalf("expected fallback within the call timeout, took %s", took)
	}
	if !svc.Health.Down() {
		t.Fatalf("expected hung remote marked down")
	}
}

func TestService_Check_TierIsolation(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(0)
	svc := newService(clock, infra.NewMemoryWindowStore(), nil)

	free := domain.RequestMeta{Addr: "10.0.0.6"}
	premium := domain.RequestMeta{Addr: "10.0.0.6", APIKey: "premium_abc"}

	for i := 0; i < 3; i++ {
		svc.Check(context.Background(), free)
	}
	if svc.Check(context.Background(), free).Allowed {
		t.Fatalf("free caller should be over quota")
	}

	for i := 0; i < 10; i++ {
		dec := svc.Check(context.Background(), premium)
		if !dec.Allowed {
			t.Fatalf("premium request %d should be admitted", i+1)
		}
		if dec.Tier != domain.TierPremium || dec.Limit != 10 {
			t.Fatalf("expected premium/10, got %s/%d", dec.Tier, dec.Limit)
		}
	}
	if svc.Check(context.Background(), premium).Allowed {
		t.Fatalf("premium caller should be over its own quota")
	}
}

func TestService_Check_AllowListNeverRejected(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(0)
	local := infra.NewMemoryWindowStore()
	svc := newService(clock, local, nil)

	for i := 0; i < 1000; i++ {
		dec := svc.Check(context.Background(), domain.RequestMeta{Addr: "10.9.9.9"})
		if !dec.Allowed {
			t.Fatalf("allow-listed request %d rejected", i)
		}
		if dec.Tier != domain.TierUnlimited || dec.Limit != 20 {
			t.Fatalf("expected unlimited/20, got %s/%d", dec.Tier, dec.Limit)
		}
	}
	if local.Size() != 0 {
		t.Fatalf("allow-listed callers should not be counted")
	}
}

func TestService_Check_FailsOpen(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(0)
	svc := newService(clock, &errStore{}, &errStore{})

	for i := 0; i < 10; i++ {
		dec := svc.Check(context.Background(), caller)
		if !dec.Allowed {
			t.Fatalf("expected fail open, request %d rejected", i)
		}
		if dec.Backend != domain.BackendNone {
			t.Fatalf("expected no backend, got %s", dec.Backend)
		}
	}

	noStores := newService(clock, nil, nil)
	if !noStores.Check(context.Background(), caller).Allowed {
		t.Fatalf("expected fail open without stores")
	}
}

func TestService_LimitFor_UnknownTierUsesDefault(t *testing.T) {
	svc := Service{Limits: testLimits(), DefaultLimit: 42}
	if got := svc.LimitFor(domain.Tier("gold")); got != 42 {
		t.Fatalf("expected default 42, got %d", got)
	}
	if got := (Service{}).LimitFor(domain.TierFree); got != DefaultLimit {
		t.Fatalf("expected package default %d, got %d", DefaultLimit, got)
	}
}

func TestService_Check_ConcurrentSameKey(t *testing.T) {
	clock := &fakeClock{}
	clock.Set(0)
	svc := newService(clock, infra.NewMemoryWindowStore(), nil)
	meta := domain.RequestMeta{Addr: "10.0.0.7", APIKey: "premium_x"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Check(context.Background(), meta).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Fatalf("expected exactly 10 admitted, got %d", admitted)
	}
}

func TestClampRetryAfter(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		-time.Second:             time.Second,
		0:                        time.Second,
		900 * time.Millisecond:   time.Second,
		57 * time.Second:         57 * time.Second,
		57900 * time.Millisecond: 57 * time.Second,
	}
	for in, want := range cases {
		if got := clampRetryAfter(in); got != want {
			t.Fatalf("clampRetryAfter(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestErrStoreIsBackendUnavailable(t *testing.T) {
	_, err := (&errStore{}).CountAndRecord(context.Background(), "k", time.Minute, base)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
