package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
)

func TestCtxValues(t *testing.T) {
	tests := map[string]struct {
		ctx       func() context.Context
		expValues log.Kv
	}{
		"Empty context should return empty values.": {
			ctx:       context.Background,
			expValues: log.Kv{},
		},
		"Values set on context should be returned.": {
			ctx: func() context.Context {
				return log.CtxWithValues(context.Background(), log.Kv{"run": "r1"})
			},
			expValues: log.Kv{"run": "r1"},
		},
		"Nested values should be merged and overridden by the most recent ones.": {
			ctx: func() context.Context {
				ctx := log.CtxWithValues(context.Background(), log.Kv{"run": "r1", "workspace": "/w"})
				return log.CtxWithValues(ctx, log.Kv{"run": "r2"})
			},
			expValues: log.Kv{"run": "r2", "workspace": "/w"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expValues, log.ValuesFromCtx(test.ctx()))
		})
	}
}

func TestNoopLogger(t *testing.T) {
	ctx := context.Background()
	l := log.Noop.WithValues(log.Kv{"a": 1}).WithCtxValues(ctx)
	l.Infof("nothing")
	assert.Equal(t, ctx, l.SetValuesOnCtx(ctx, log.Kv{"a": 1}))
}
