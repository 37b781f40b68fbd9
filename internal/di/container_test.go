package di

import (
	"sort"
	"testing"

	"github.com/qinfinity/qcored/internal/config"
	"github.com/qinfinity/qcored/internal/core/integrity"
	"github.com/qinfinity/qcored/internal/core/payment"
	"github.com/qinfinity/qcored/internal/events"
	"github.com/qinfinity/qcored/internal/ports/sandbox"
)

func sandboxConfig() *config.Config {
	cfg := config.Default()
	cfg.Node.Sandbox = true
	cfg.Storage.KVBackend = "memory"
	return cfg
}

// TestContainer_LazyBuild tests that builders run once and on first use
func TestContainer_LazyBuild(t *testing.T) {
	c := New()
	builds := 0
	c.RegisterBuilder("svc", func(c *Container) (interface{}, error) {
		builds++
		return "instance", nil
	})

	if builds != 0 {
		t.Fatalf("builds before Get = %d, want 0", builds)
	}
	for i := 0; i < 3; i++ {
		got, err := c.Get("svc")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "instance" {
			t.Errorf("get = %v, want instance", got)
		}
	}
	if builds != 1 {
		t.Errorf("builds = %d, want 1", builds)
	}

	if _, err := c.Get("absent"); err == nil {
		t.Error("get of an unregistered service should fail")
	}
}

// TestProvider_FullGraph tests that the integrity builder pulls the whole
// dependency chain up without error
func TestProvider_FullGraph(t *testing.T) {
	cfg := sandboxConfig()
	c := New()
	p := NewProvider(c, cfg)
	if err := p.RegisterAll(); err != nil {
		t.Fatalf("register: %v", err)
	}

	v, err := c.Get(ServiceIntegrity)
	if err != nil {
		t.Fatalf("build integrity: %v", err)
	}
	if _, ok := v.(*integrity.Validator); !ok {
		t.Fatalf("integrity service is %T", v)
	}

	bus := c.MustGet(ServiceBus).(*events.Bus)
	defer bus.Close()

	eng := c.MustGet(ServicePayment).(*payment.Engine)
	if eng == nil {
		t.Fatal("payment engine is nil")
	}
}

// TestProvider_SandboxPorts tests the sandbox/production identity switch
func TestProvider_SandboxPorts(t *testing.T) {
	cfg := sandboxConfig()
	c := New()
	if err := NewProvider(c, cfg).RegisterAll(); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := c.MustGet(ServiceIdentity).(*sandbox.Identity); !ok {
		t.Errorf("sandbox identity is %T, want *sandbox.Identity", c.MustGet(ServiceIdentity))
	}
	if _, ok := c.MustGet(ServiceCrypto).(*sandbox.Crypto); !ok {
		t.Errorf("sandbox crypto is %T, want *sandbox.Crypto", c.MustGet(ServiceCrypto))
	}
}

// TestContainer_ServiceNames tests enumeration of registered names
func TestContainer_ServiceNames(t *testing.T) {
	c := New()
	c.Register("a", 1)
	c.RegisterBuilder("b", func(c *Container) (interface{}, error) { return 2, nil })

	names := c.ServiceNames()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v, want [a b]", names)
	}
	if !c.Has("a") || !c.Has("b") || c.Has("z") {
		t.Error("Has disagrees with registration")
	}
}
