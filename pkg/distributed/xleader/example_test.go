package xleader_test

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/xlockkit/pkg/distributed/xleader"
	"github.com/omeyang/xlockkit/pkg/distributed/xlockmgr"
	"github.com/omeyang/xlockkit/pkg/reactive/xref"
)

func ExampleElector() {
	m, err := xlockmgr.New()
	if err != nil {
		panic(err)
	}
	defer m.Close()

	e, err := xleader.New(m.NewClient(), xref.Const("sync-worker"))
	if err != nil {
		panic(err)
	}
	defer e.Close()

	for !e.IsLeader().Get() {
		time.Sleep(time.Millisecond)
	}
	ran := e.AsLeader(func(signal context.Context) {
		fmt.Println("leading, cancelled:", signal.Err() != nil)
	})
	fmt.Println("ran:", ran)
	// Output:
	// leading, cancelled: false
	// ran: true
}
