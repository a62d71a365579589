package redis

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(addr string) ConnectOptions {
	return ConnectOptions{
		Addr:           addr,
		DialTimeout:    100 * time.Millisecond,
		ReadTimeout:    100 * time.Millisecond,
		WriteTimeout:   100 * time.Millisecond,
		PoolSize:       2,
		ConnectTimeout: 300 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		MaxWait:        50 * time.Millisecond,
		PingTimeout:    100 * time.Millisecond,
		WarnThreshold:  2,
	}
}

func TestNew_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), testOptions(mr.Addr()), nil)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNew_RetriesUntilServerAppears(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	// reserve an address, start redis on it a bit later
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = mr.StartAddr(addr)
	}()
	defer mr.Close()

	opts := testOptions(addr)
	opts.ConnectTimeout = 2 * time.Second
	client, err := New(context.Background(), opts, nil)
	require.NoError(t, err)
	defer client.Close()
}

func TestNew_TimesOut(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	start := time.Now()
	_, err = New(context.Background(), testOptions(addr), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestValidateOptions(t *testing.T) {
	valid := testOptions("localhost:6379")
	require.NoError(t, validateOptions(valid))

	tests := []struct {
		name   string
		mutate func(*ConnectOptions)
	}{
		{"no addr", func(o *ConnectOptions) { o.Addr = "" }},
		{"no connect timeout", func(o *ConnectOptions) { o.ConnectTimeout = 0 }},
		{"no retry interval", func(o *ConnectOptions) { o.RetryInterval = 0 }},
		{"no max wait", func(o *ConnectOptions) { o.MaxWait = 0 }},
		{"no ping timeout", func(o *ConnectOptions) { o.PingTimeout = 0 }},
		{"negative warn threshold", func(o *ConnectOptions) { o.WarnThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			assert.Error(t, validateOptions(opts))
		})
	}
}
