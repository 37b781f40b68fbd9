package di

import (
	"context"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/config"
	"github.com/qinfinity/qcored/internal/core/consensus"
	"github.com/qinfinity/qcored/internal/core/dao"
	"github.com/qinfinity/qcored/internal/core/gossip"
	"github.com/qinfinity/qcored/internal/core/integrity"
	"github.com/qinfinity/qcored/internal/core/ledger"
	"github.com/qinfinity/qcored/internal/core/payment"
	"github.com/qinfinity/qcored/internal/core/pipeline"
	"github.com/qinfinity/qcored/internal/core/replay"
	"github.com/qinfinity/qcored/internal/core/stress"
	qcrypto "github.com/qinfinity/qcored/internal/crypto"
	"github.com/qinfinity/qcored/internal/events"
	"github.com/qinfinity/qcored/internal/observability"
	"github.com/qinfinity/qcored/internal/ports"
	"github.com/qinfinity/qcored/internal/ports/sandbox"
	"github.com/qinfinity/qcored/internal/storage/artifacts"
	"github.com/qinfinity/qcored/internal/storage/kv"
	"github.com/qinfinity/qcored/internal/storage/relational"
)

// Provider registers the builders for every qcored component.
//
// Capability ports that normally live in remote ecosystem services (wallet,
// content storage, fleet control, vote collection) default to the in-process
// sandbox adapters; a deployment wires real adapters over them with
// Container.Register before first Get.
type Provider struct {
	container *Container
	config    *config.Config
}

// NewProvider creates a new service provider.
func NewProvider(container *Container, cfg *config.Config) *Provider {
	return &Provider{
		container: container,
		config:    cfg,
	}
}

// RegisterAll registers all services.
func (p *Provider) RegisterAll() error {
	p.container.Register(ServiceConfig, p.config)

	p.registerFoundationBuilders()
	p.registerStorageBuilders()
	p.registerPortBuilders()
	p.registerObservabilityBuilders()
	p.registerCoreBuilders()

	return nil
}

func (p *Provider) registerFoundationBuilders() {
	p.container.RegisterBuilder(ServiceLogger, func(c *Container) (interface{}, error) {
		return log.New(os.Stderr, "["+p.config.Node.ID+"] ", log.LstdFlags|log.Lmsgprefix), nil
	})
	p.container.RegisterBuilder(ServiceClock, func(c *Container) (interface{}, error) {
		return clock.System(), nil
	})
	p.container.RegisterBuilder(ServiceIDs, func(c *Container) (interface{}, error) {
		return clock.NewUUIDGenerator(), nil
	})
	p.container.RegisterBuilder(ServiceBus, func(c *Container) (interface{}, error) {
		logger, err := c.Get(ServiceLogger)
		if err != nil {
			return nil, err
		}
		return events.NewBus(logger.(*log.Logger)), nil
	})
}

func (p *Provider) registerStorageBuilders() {
	p.container.RegisterBuilder(ServiceKV, func(c *Container) (interface{}, error) {
		return kv.Open(p.config.Storage.KVBackend, p.config.KVPath())
	})
	p.container.RegisterBuilder(ServiceArtifacts, func(c *Container) (interface{}, error) {
		return artifacts.NewStore(p.config.ArtifactsDir()), nil
	})
	p.container.RegisterBuilder(ServiceRelational, func(c *Container) (interface{}, error) {
		if p.config.Storage.RelationalDriver == "" {
			// Archiving disabled. The payment engine treats a nil store
			// as "keep settlements in memory only".
			return (*relational.Store)(nil), nil
		}
		return relational.Open(p.config.Storage.RelationalDriver, p.config.Storage.RelationalDSN)
	})
}

func (p *Provider) registerPortBuilders() {
	p.container.RegisterBuilder(ServiceCrypto, func(c *Container) (interface{}, error) {
		if p.config.Node.Sandbox {
			return sandbox.NewCrypto(), nil
		}
		return qcrypto.New(p.config.Node.ID), nil
	})
	p.container.RegisterBuilder(ServiceIdentity, func(c *Container) (interface{}, error) {
		if p.config.Node.Sandbox {
			return sandbox.NewIdentity(), nil
		}
		crypt, err := c.Get(ServiceCrypto)
		if err != nil {
			return nil, err
		}
		service, ok := crypt.(*qcrypto.Service)
		if !ok {
			// A custom crypto port was registered over the builder; the
			// registry still needs a key source of its own.
			service = qcrypto.New(p.config.Node.ID)
		}
		return qcrypto.NewRegistry(service), nil
	})
	p.container.RegisterBuilder(ServiceStorage, func(c *Container) (interface{}, error) {
		return sandbox.NewStorage(), nil
	})
	p.container.RegisterBuilder(ServiceWallet, func(c *Container) (interface{}, error) {
		return sandbox.NewWallet(), nil
	})
	p.container.RegisterBuilder(ServiceIndex, func(c *Container) (interface{}, error) {
		return sandbox.NewIndex(), nil
	})
	p.container.RegisterBuilder(ServiceAudit, func(c *Container) (interface{}, error) {
		return sandbox.NewAudit(), nil
	})
	p.container.RegisterBuilder(ServiceFleet, func(c *Container) (interface{}, error) {
		return sandbox.NewFleet(), nil
	})
	p.container.RegisterBuilder(ServiceVotes, func(c *Container) (interface{}, error) {
		return sandbox.NewVoteCollector(), nil
	})
}

func (p *Provider) registerObservabilityBuilders() {
	p.container.RegisterBuilder(ServiceRecorder, func(c *Container) (interface{}, error) {
		clk, err := c.Get(ServiceClock)
		if err != nil {
			return nil, err
		}
		recorder := observability.NewRecorder(p.config.Observability.SampleCapacity,
			p.config.Observability.SampleRetention, p.config.Observability.EvictionInterval,
			clk.(clock.Clock))
		if err := recorder.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, err
		}
		return recorder, nil
	})
	p.container.RegisterBuilder(ServicePoller, func(c *Container) (interface{}, error) {
		clk, err := c.Get(ServiceClock)
		if err != nil {
			return nil, err
		}
		logger, err := c.Get(ServiceLogger)
		if err != nil {
			return nil, err
		}
		return observability.NewHealthPoller(p.config.Observability.PollInterval,
			p.config.Observability.ProbeTimeout, clk.(clock.Clock), logger.(*log.Logger)), nil
	})
	p.container.RegisterBuilder(ServiceSLO, func(c *Container) (interface{}, error) {
		recorder, err := c.Get(ServiceRecorder)
		if err != nil {
			return nil, err
		}
		evaluator := observability.NewSLOEvaluator(observability.SLOTargets{
			P50:         p.config.Observability.SLOP50,
			P95:         p.config.Observability.SLOP95,
			P99:         p.config.Observability.SLOP99,
			ErrorBudget: p.config.Observability.ErrorBudget,
			MinRate:     p.config.Observability.MinRate,
		})
		return observability.NewSLOMonitor(recorder.(*observability.Recorder), evaluator,
			c.MustGet(ServiceBus).(ports.EventBus), p.clock(), p.ids(),
			p.config.Observability.SLOInterval), nil
	})
}

func (p *Provider) registerCoreBuilders() {
	p.container.RegisterBuilder(ServiceLedger, func(c *Container) (interface{}, error) {
		db, err := c.Get(ServiceKV)
		if err != nil {
			return nil, err
		}
		return ledger.New(db.(kv.DB),
			c.MustGet(ServiceCrypto).(ports.Crypto),
			c.MustGet(ServiceStorage).(ports.ContentStorage),
			c.MustGet(ServiceBus).(ports.EventBus),
			p.clock(), p.ids(), p.logger(), ledger.Options{
				NodeID:         p.config.Node.ID,
				Retention:      p.config.Ledger.Retention,
				PublishRetries: p.config.Ledger.PublishRetries,
				PublishBackoff: p.config.Ledger.PublishBackoff,
				PublishTimeout: p.config.Ledger.PublishTimeout,
				CacheSize:      p.config.Ledger.CacheSize,
				SyncPublish:    p.config.Ledger.SyncPublish,
			})
	})

	p.container.RegisterBuilder(ServicePipeline, func(c *Container) (interface{}, error) {
		led, err := c.Get(ServiceLedger)
		if err != nil {
			return nil, err
		}
		return pipeline.NewExecutor(
			c.MustGet(ServiceCrypto).(ports.Crypto),
			c.MustGet(ServiceStorage).(ports.ContentStorage),
			c.MustGet(ServiceIndex).(ports.Index),
			c.MustGet(ServiceAudit).(ports.Audit),
			led.(*ledger.Ledger),
			c.MustGet(ServiceArtifacts).(*artifacts.Store),
			c.MustGet(ServiceRecorder).(*observability.Recorder),
			p.clock(), p.ids(), p.logger()), nil
	})

	p.container.RegisterBuilder(ServiceReplay, func(c *Container) (interface{}, error) {
		exec, err := c.Get(ServicePipeline)
		if err != nil {
			return nil, err
		}
		return replay.NewComparator(exec.(*pipeline.Executor),
			c.MustGet(ServiceBus).(ports.EventBus), p.clock(), p.ids(), replay.Tolerances{
				Step:   p.config.Replay.StepTolerance,
				Timing: p.config.Replay.TimingTolerance,
			}), nil
	})

	p.container.RegisterBuilder(ServiceGossip, func(c *Container) (interface{}, error) {
		return gossip.NewDistributor(c.MustGet(ServiceBus).(ports.EventBus),
			p.clock(), p.ids(), clock.NewRand(p.config.Gossip.Seed)), nil
	})

	p.container.RegisterBuilder(ServiceStress, func(c *Container) (interface{}, error) {
		return stress.NewHarness(c.MustGet(ServiceBus).(ports.EventBus),
			p.clock(), p.ids(), clock.NewRand(p.config.Gossip.Seed),
			c.MustGet(ServiceRecorder).(*observability.Recorder)), nil
	})

	p.container.RegisterBuilder(ServiceConsensus, func(c *Container) (interface{}, error) {
		return consensus.NewCoordinator(
			c.MustGet(ServiceVotes).(ports.VoteCollector),
			c.MustGet(ServiceIdentity).(ports.Identity),
			c.MustGet(ServiceArtifacts).(*artifacts.Store),
			c.MustGet(ServiceBus).(ports.EventBus),
			p.clock(), p.ids(), p.logger(),
			p.config.Consensus.NodePool, consensus.Options{
				Participants:    p.config.Consensus.Participants,
				VoteTimeout:     p.config.Consensus.VoteTimeout,
				MaxRecovery:     p.config.Consensus.MaxRecovery,
				RecoveryBackoff: p.config.Consensus.RecoveryBackoff,
			}), nil
	})

	p.container.RegisterBuilder(ServicePayment, func(c *Container) (interface{}, error) {
		archive, err := c.Get(ServiceRelational)
		if err != nil {
			return nil, err
		}
		return payment.NewEngine(
			c.MustGet(ServiceWallet).(ports.Wallet),
			c.MustGet(ServiceAudit).(ports.Audit),
			c.MustGet(ServiceBus).(ports.EventBus),
			p.clock(), p.ids(), p.logger(),
			payment.DefaultFeeSchedule(), payment.DefaultSplitConfig(),
			archive.(*relational.Store), payment.Options{
				IntentTTL:     p.config.Payment.IntentTTL,
				SweepInterval: p.config.Payment.SweepInterval,
				Currencies:    p.config.Payment.Currencies,
			}), nil
	})

	p.container.RegisterBuilder(ServiceDAO, func(c *Container) (interface{}, error) {
		return dao.NewService(
			c.MustGet(ServiceIdentity).(ports.Identity),
			c.MustGet(ServiceWallet).(ports.Wallet),
			c.MustGet(ServiceAudit).(ports.Audit),
			c.MustGet(ServiceBus).(ports.EventBus),
			p.clock(), p.ids(), p.logger()), nil
	})

	p.container.RegisterBuilder(ServiceIntegrity, func(c *Container) (interface{}, error) {
		exec, err := c.Get(ServicePipeline)
		if err != nil {
			return nil, err
		}
		led, err := c.Get(ServiceLedger)
		if err != nil {
			return nil, err
		}
		return integrity.NewValidator(
			p.ecosystemModules(),
			exec.(*pipeline.Executor),
			led.(*ledger.Ledger),
			c.MustGet(ServiceRecorder).(*observability.Recorder),
			c.MustGet(ServiceCrypto).(ports.Crypto),
			c.MustGet(ServiceStorage).(ports.ContentStorage),
			c.MustGet(ServiceFleet).(ports.Fleet),
			c.MustGet(ServiceBus).(*events.Bus),
			c.MustGet(ServiceArtifacts).(*artifacts.Store),
			p.clock(), p.ids(), p.logger(),
			integrity.Facts{
				IPFSGateway: p.config.Integrity.IPFSGateway,
				LibP2PPeers: p.config.Integrity.LibP2PPeers,
			},
			integrity.Options{
				ProbeTimeout:   p.config.Integrity.ProbeTimeout,
				PublishTimeout: p.config.Integrity.PublishTimeout,
			}), nil
	})
}

// ecosystemModules lists the modules the integrity validator probes. The
// default probes exercise the bus subscription path; deployments replace
// them with probes against the real services.
func (p *Provider) ecosystemModules() []integrity.Module {
	probe := func(name string) observability.Probe {
		return func(ctx context.Context) error {
			bus := p.container.MustGet(ServiceBus).(ports.EventBus)
			cancel, err := bus.Subscribe("probe."+name, func(ports.Envelope) {})
			if err != nil {
				return err
			}
			cancel()
			return nil
		}
	}
	return []integrity.Module{
		{Name: "squid", Critical: true, Check: probe("squid")},
		{Name: "qwallet", Critical: true, Check: probe("qwallet")},
		{Name: "qmarket", Critical: false, Check: probe("qmarket")},
		{Name: "qmail", Critical: false, Check: probe("qmail")},
	}
}

// GetConfig returns the configuration from the container.
func (p *Provider) GetConfig() *config.Config {
	return p.config
}

func (p *Provider) clock() clock.Clock {
	return p.container.MustGet(ServiceClock).(clock.Clock)
}

func (p *Provider) ids() clock.IDGenerator {
	return p.container.MustGet(ServiceIDs).(clock.IDGenerator)
}

func (p *Provider) logger() *log.Logger {
	return p.container.MustGet(ServiceLogger).(*log.Logger)
}
