package xdlock_test

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xlockkit/pkg/distributed/xdlock"
	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
)

func ExampleNewRedisPlatform() {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p, err := xdlock.NewRedisPlatform([]redis.UniversalClient{rdb}, xdlock.WithKeyPrefix("demo:"))
	if err != nil {
		panic(err)
	}
	defer p.Close()
	coord, err := xlocks.New(p)
	if err != nil {
		panic(err)
	}
	defer coord.Close()

	v, err := coord.Request(context.Background(), "report", func(context.Context) (any, error) {
		return mr.Exists("demo:report"), nil
	})
	fmt.Println(v, err)
	// Output: true <nil>
}
