package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"promohive/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

const (
	PrefixTransaction = "TXN"
	PrefixWithdrawal  = "WDR"
)

// Generator issues human readable reference codes such as TXN-250101-00A7K.
type Generator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

func (g *RedisGenerator) Next(ctx context.Context, prefix string) (string, error) {
	today := g.now().UTC().Format("060102")
	key := rediskey.BuildSequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		_ = g.rdb.Expire(ctx, key, 48*time.Hour).Err()
	}

	return Format(prefix, today, seq)
}

// Format renders a daily sequence number as PREFIX-YYMMDD-SSSRR, where SSS is the
// base36 sequence padded to three characters and RR a random suffix.
func Format(prefix, day string, seq int64) (string, error) {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 3 {
		encoded = strings.Repeat("0", 3-len(encoded)) + encoded
	}

	suffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encoded, suffix), nil
}

// Random builds a code without a shared counter, for callers running without Redis.
func Random(prefix string) (string, error) {
	body, err := randomAlphaNumeric(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("060102"), body), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
