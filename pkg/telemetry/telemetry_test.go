// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cellwarden/pkg/errstatus"
)

type call struct {
	op   string
	key  string
	args []interface{}
}

// fakePipe records the commands queued on it. Methods the publisher does not
// use fall through to the nil embedded interface.
type fakePipe struct {
	redis.Pipeliner
	client *fakeClient
	calls  []call
}

func (f *fakePipe) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.calls = append(f.calls, call{"HSET", key, values})
	return redis.NewIntCmd(ctx)
}

func (f *fakePipe) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.calls = append(f.calls, call{"SADD", key, members})
	return redis.NewIntCmd(ctx)
}

func (f *fakePipe) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.calls = append(f.calls, call{"SREM", key, members})
	return redis.NewIntCmd(ctx)
}

func (f *fakePipe) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.calls = append(f.calls, call{"XADD", a.Stream, []interface{}{a.Values}})
	return redis.NewStringCmd(ctx)
}

func (f *fakePipe) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.calls = append(f.calls, call{"PUBLISH", channel, []interface{}{message}})
	return redis.NewIntCmd(ctx)
}

func (f *fakePipe) Exec(ctx context.Context) ([]redis.Cmder, error) {
	if f.client.err != nil {
		return nil, f.client.err
	}
	f.client.executed = append(f.client.executed, f.calls...)
	return nil, nil
}

type fakeClient struct {
	err      error
	executed []call
}

func (c *fakeClient) Pipeline() redis.Pipeliner {
	return &fakePipe{client: c}
}

func (c *fakeClient) take() []call {
	out := c.executed
	c.executed = nil
	return out
}

func find(calls []call, op, key string) []call {
	var out []call
	for _, c := range calls {
		if c.op == op && c.key == key {
			out = append(out, c)
		}
	}
	return out
}

func TestFlush_StatusHash(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	client := &fakeClient{}
	p := New(client, log)

	snap := &Snapshot{Mode: "CHARGE", CellMinmV: 3300, CellMaxmV: 3350, ChargerOn: true}
	require.NoError(t, p.Flush(context.Background(), snap, nil))

	calls := client.take()
	hset := find(calls, "HSET", StatusKey)
	require.Len(t, hset, 1)
	fields := hset[0].args[0].(map[string]interface{})
	assert.Equal(t, "CHARGE", fields["mode"])
	assert.Equal(t, "3300", fields["cell-min"])
	assert.Equal(t, "true", fields["charger-on"])

	// First publish announces every tracked field.
	assert.Len(t, find(calls, "PUBLISH", StatusKey), 4)

	snap2 := *snap
	snap2.Mode = "STANDBY"
	require.NoError(t, p.Flush(context.Background(), &snap2, nil))
	pubs := find(client.take(), "PUBLISH", StatusKey)
	require.Len(t, pubs, 1)
	assert.Equal(t, "mode", pubs[0].args[0])
}

func TestFlush_FaultSetDiff(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	client := &fakeClient{}
	p := New(client, log)
	ctx := context.Background()

	require.NoError(t, p.Flush(ctx, &Snapshot{Faults: []string{"CAN", "CHARGER"}}, nil))
	calls := client.take()
	assert.Len(t, find(calls, "SADD", FaultSetKey), 2)
	assert.Len(t, find(calls, "PUBLISH", FaultChannel), 1)

	require.NoError(t, p.Flush(ctx, &Snapshot{Faults: []string{"CAN", "CHARGER"}}, nil))
	calls = client.take()
	assert.Empty(t, find(calls, "SADD", FaultSetKey))
	assert.Empty(t, find(calls, "PUBLISH", FaultChannel))

	require.NoError(t, p.Flush(ctx, &Snapshot{Faults: []string{"CAN"}}, nil))
	calls = client.take()
	srem := find(calls, "SREM", FaultSetKey)
	require.Len(t, srem, 1)
	assert.Equal(t, "CHARGER", srem[0].args[0])
	assert.Len(t, find(calls, "PUBLISH", FaultChannel), 1)
}

func TestFlush_FaultEvents(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	client := &fakeClient{}
	p := New(client, log)

	agg := errstatus.New()
	agg.OnChange(p.FaultChanged)
	agg.Assert(errstatus.CAN, 10)
	agg.Assert(errstatus.CAN, 11)
	agg.Pass(errstatus.CAN)

	var events []FaultEvent
	for len(p.events) > 0 {
		events = append(events, <-p.events)
	}
	require.Len(t, events, 2)

	require.NoError(t, p.Flush(context.Background(), nil, events))
	xadd := find(client.take(), "XADD", FaultStream)
	require.Len(t, xadd, 2)

	set := xadd[0].args[0].(map[string]interface{})
	assert.Equal(t, "4", set["code"])
	assert.Equal(t, "CAN", set["description"])

	released := xadd[1].args[0].(map[string]interface{})
	assert.Equal(t, "-4", released["code"])
}

func TestFlush_FailureKeepsState(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	client := &fakeClient{err: errors.New("connection refused")}
	p := New(client, log)
	ctx := context.Background()

	assert.Error(t, p.Flush(ctx, &Snapshot{Faults: []string{"CAN"}}, nil))
	assert.Equal(t, "redis pipeline failed", hook.LastEntry().Message)

	client.err = nil
	require.NoError(t, p.Flush(ctx, &Snapshot{Faults: []string{"CAN"}}, nil))
	assert.Len(t, find(client.take(), "SADD", FaultSetKey), 1, "set not remembered after a failed pipeline")
	assert.Equal(t, "redis pipeline recovered", hook.LastEntry().Message)
}

func TestSubmit_KeepsLatest(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	p := New(&fakeClient{}, log)

	p.Submit(Snapshot{Tick: 1})
	p.Submit(Snapshot{Tick: 2})
	p.Submit(Snapshot{Tick: 3})

	s := <-p.snaps
	assert.Equal(t, uint32(3), s.Tick)
	assert.Empty(t, p.snaps)
}
