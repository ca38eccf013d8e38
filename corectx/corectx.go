package corectx

import (
	"fmt"
	"sync"
	"time"

	logging "github.com/op/go-logging"
	"golang.org/x/sync/errgroup"

	"github.com/bolinfest/grouprepl/broadcast"
	"github.com/bolinfest/grouprepl/certifier"
	"github.com/bolinfest/grouprepl/config"
	"github.com/bolinfest/grouprepl/consistency"
	"github.com/bolinfest/grouprepl/gcs"
	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/holdgate"
	"github.com/bolinfest/grouprepl/member"
	"github.com/bolinfest/grouprepl/memberactions"
	"github.com/bolinfest/grouprepl/metrics"
	"github.com/bolinfest/grouprepl/observer"
	"github.com/bolinfest/grouprepl/view"
	"github.com/bolinfest/grouprepl/wireproto"
)

var logger = logging.MustGetLogger("corectx")

// Hooks are the actions CoreContext drives outward, towards whatever
// embeds it.
type Hooks struct {
	// AbortServer is invoked when exit_state_action is ABORT_SERVER and
	// certification hits an unrecoverable fault (§7); deciding how to
	// actually terminate the process belongs to the embedder, not the
	// core.
	AbortServer func()
}

// CoreContext owns every subsystem for one member's participation in the
// group and the lifecycle (initialize/finalize) that starts and stops
// their background work together.
type CoreContext struct {
	cfg   *config.Config
	hooks Hooks
	stats *metrics.Sink

	self       *member.Member
	dispatcher *view.Dispatcher
	adapter    *gcs.Adapter
	cert       *certifier.Certifier
	coord      *consistency.Coordinator
	gate       *holdgate.Gate
	actions    *memberactions.Store
	obs        *observer.Observer
	ticker     *broadcast.Ticker
	worker     *Worker

	mu          sync.RWMutex
	currentView member.View

	group errgroup.Group
}

// New constructs every subsystem and wires their hooks together, but
// does not yet join the group or start background goroutines; call
// Initialize for that. self is this member's identity/address record,
// not yet installed in any view.
func New(cfg *config.Config, self *member.Member, transport gcs.Transport, stats *metrics.Sink, hooks Hooks) *CoreContext {
	if stats == nil {
		stats = metrics.NoOp()
	}

	cc := &CoreContext{
		cfg:     cfg,
		hooks:   hooks,
		stats:   stats,
		self:    self,
		actions: memberactions.New(),
		gate:    holdgate.New(),
		worker:  NewWorker(64),
	}

	cc.dispatcher = view.NewDispatcher()
	cc.cert = certifier.New(cfg.GroupName, cfg.GTIDAssignmentBlockSize, stats)

	quota, period := flowControlParams(cfg)
	cc.adapter = gcs.New(transport, cc.dispatcher, stats, cfg.CommunicationMaxMessageSize, quota, period)

	cc.coord = consistency.New(cc.gate, consistency.Hooks{
		IsSecondaryApplier: func() bool { return cc.self.Role() == member.RoleSecondary },
		BroadcastSyncBeforeExecution: func(threadID int64) error {
			_, err := cc.adapter.SendMessage(observer.EncodeSyncBeforeExecution(threadID), false)
			return err
		},
		BroadcastPrepareAck: func(id gtid.ID) error {
			_, err := cc.adapter.SendMessage(observer.EncodePrepareAck(id), false)
			return err
		},
	}, stats)

	cc.obs = observer.New(cc.cert, cc.coord, cc.gate, cc.actions, stats, self.GCSID, observer.Hooks{
		BroadcastTransaction: func(req observer.PreCommitRequest) error {
			_, err := cc.adapter.SendMessage(observer.EncodeTransactionMessage(req), false)
			return err
		},
		RunMemberAction: func(a memberactions.Action) error {
			logger.Infof("corectx: running member action %s", a.Name)
			return nil
		},
		OnFatalError: cc.applyExitStateAction,
	})

	cc.dispatcher.Subscribe(wireproto.CargoTransaction, cc.obs.HandleTransactionMessage)
	cc.dispatcher.Subscribe(wireproto.CargoTransactionWithGuarantee, cc.obs.HandleTransactionMessage)
	cc.dispatcher.Subscribe(wireproto.CargoPrepareAck, cc.obs.HandlePrepareAckMessage)
	cc.dispatcher.Subscribe(wireproto.CargoSyncBeforeExecution, cc.obs.HandleSyncBeforeExecutionMessage)
	cc.dispatcher.Subscribe(wireproto.CargoCertifierGC, cc.handleCertifierGC)
	cc.dispatcher.OnView(cc.handleView)

	cc.ticker = broadcast.New(broadcast.Hooks{
		LocalStatus:               cc.self.Status,
		BroadcastExecutedSet:      cc.broadcastExecutedSet,
		SetSendTransactionIDsFlag: func() {},
	}, 0, stats)

	return cc
}

func flowControlParams(cfg *config.Config) (quota, periodSeconds int64) {
	if cfg.FlowControlMode != config.FlowControlQuota || cfg.FlowControlQuota <= 0 {
		return 0, 0
	}
	period := cfg.FlowControlPeriod
	if period <= 0 {
		period = time.Second
	}
	return cfg.FlowControlQuota, int64(period / time.Second)
}

// Initialize joins the group and starts the background ticker and
// worker goroutines.
func (cc *CoreContext) Initialize() error {
	if res, err := cc.adapter.Join(cc.self.Snapshot()); err != nil || res != gcs.JoinOK {
		return fmt.Errorf("corectx: join failed: res=%v err=%w", res, err)
	}
	cc.group.Go(func() error { cc.ticker.Run(); return nil })
	cc.group.Go(func() error { cc.worker.Run(); return nil })
	return nil
}

// Finalize leaves the group and stops the background goroutines,
// waiting for both to return.
func (cc *CoreContext) Finalize() error {
	cc.adapter.Leave()
	cc.ticker.Stop()
	cc.worker.Stop()
	return cc.group.Wait()
}

func (cc *CoreContext) broadcastExecutedSet() {
	msg := encodeCertifierGC(cc.cert.GroupGTIDExecuted())
	if _, err := cc.adapter.SendMessage(msg, true); err != nil {
		logger.Warningf("corectx: broadcasting executed set: %v", err)
	}
}

func (cc *CoreContext) handleCertifierGC(sender member.ID, msg wireproto.Message) {
	executed, err := decodeCertifierGC(msg)
	if err != nil {
		logger.Errorf("corectx: decoding certifier-gc from %s: %v", sender, err)
		return
	}
	cc.mu.RLock()
	viewMembers := cc.currentView.OnlineMembers()
	cc.mu.RUnlock()
	cc.cert.HandleCertifierData(sender, executed, viewMembers)
}

func (cc *CoreContext) handleView(v member.View) {
	cc.mu.Lock()
	cc.currentView = v
	cc.mu.Unlock()
	cc.adapter.NegotiateProtocolVersion(v.Members)
	cc.obs.HandleView(v)
}

// applyExitStateAction reacts to a certification fault (CERTIFICATION_EXHAUSTED
// or INTERNAL, §7) according to the configured exit_state_action.
func (cc *CoreContext) applyExitStateAction(err error) {
	logger.Errorf("corectx: fatal certification error, applying exit_state_action %s: %v", cc.cfg.ExitStateAction, err)
	cc.obs.SetReady(false)
	switch cc.cfg.ExitStateAction {
	case config.ExitReadOnly:
		cc.self.SetStatus(member.StatusError)
	case config.ExitOfflineMode:
		cc.self.SetStatus(member.StatusOffline)
	case config.ExitAbortServer:
		cc.self.SetStatus(member.StatusError)
		if cc.hooks.AbortServer != nil {
			cc.hooks.AbortServer()
		}
	}
	cc.gate.SetMemberError()
}

// Observer returns the hook surface the embedding server plugin calls
// into for session-lifecycle events.
func (cc *CoreContext) Observer() *observer.Observer { return cc.obs }

// Certifier returns the certification engine, for state-transfer
// (get/set_certification_info) wiring.
func (cc *CoreContext) Certifier() *certifier.Certifier { return cc.cert }

// Coordinator returns the transaction consistency coordinator.
func (cc *CoreContext) Coordinator() *consistency.Coordinator { return cc.coord }

// Gate returns the hold-transactions gate.
func (cc *CoreContext) Gate() *holdgate.Gate { return cc.gate }

// Actions returns the member-actions store.
func (cc *CoreContext) Actions() *memberactions.Store { return cc.actions }

// Adapter returns the GCS adapter facade.
func (cc *CoreContext) Adapter() *gcs.Adapter { return cc.adapter }

// CurrentView returns the most recently installed view.
func (cc *CoreContext) CurrentView() member.View {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.currentView
}
