package main

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bolinfest/grouprepl/config"
	"github.com/bolinfest/grouprepl/corectx"
	"github.com/bolinfest/grouprepl/gcs"
	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/metrics"
)

// simGroup is a set of CoreContexts sharing one LoopbackTransport,
// standing in for a group of mysqld instances running the plugin
// under one group_name.
type simGroup struct {
	members []*corectx.CoreContext
}

// newSimGroup builds n members named "m0".."m(n-1)", joins them all to
// a fresh LoopbackTransport, and marks each ready to accept local
// transactions.
func newSimGroup(groupName string, n int, blockSize int64) (*simGroup, error) {
	group := uuid.New()
	transport := gcs.NewLoopbackTransport(groupName)

	sg := &simGroup{}
	for i := 0; i < n; i++ {
		id := member.ID(fmt.Sprintf("m%d", i))
		m := member.New(id, uuid.New().String(), "127.0.0.1", 3306+i, 50, 1)
		m.SetStatus(member.StatusOnline)

		cfg := config.New(group)
		cfg.GTIDAssignmentBlockSize = blockSize

		cc := corectx.New(cfg, m, transport, metrics.NoOp(), corectx.Hooks{})
		if err := cc.Initialize(); err != nil {
			sg.Stop()
			return nil, fmt.Errorf("initializing %s: %w", id, err)
		}
		cc.Observer().SetReady(true)
		sg.members = append(sg.members, cc)
	}
	return sg, nil
}

// Stop leaves the group and stops every member's background goroutines.
func (sg *simGroup) Stop() {
	for _, cc := range sg.members {
		cc.Finalize()
	}
}
