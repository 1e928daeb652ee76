package api

import (
	"sync/atomic"
	"testing"

	"github.com/egorovli/ekonsulat-engine/internal/config"
	"github.com/egorovli/ekonsulat-engine/internal/engine"
	"github.com/egorovli/ekonsulat-engine/internal/utils"
)

// TestEngine_SubscribeBeforeStartReceivesSnapshots guards against Subscribe
// silently dropping registrations made before Start: Configure must wire
// the Store/Coordinator so a subscriber registered in between sees every
// action applied once the run begins.
func TestEngine_SubscribeBeforeStartReceivesSnapshots(t *testing.T) {
	e := &Engine{log: utils.NewLogger()}

	p := config.Default()
	p.LocationID = "191"
	p.PartySize = 1
	if err := e.Configure(p); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var received int32
	e.Subscribe(func(Snapshot) {
		atomic.AddInt32(&received, 1)
	})

	if e.coord == nil {
		t.Fatal("Configure must wire the Coordinator before Start is called")
	}

	e.store.Dispatch(engine.StartSearch{})

	if atomic.LoadInt32(&received) == 0 {
		t.Fatal("subscriber registered before Start never received a snapshot")
	}
}
