// Package manager orchestrates town and claim mutations: validate
// against the local registries, commit to the database, update the
// registries, and propagate to peer servers over the message bus.
package manager

import (
	"context"
	"log"
	"sync"

	"townforge/internal/config"
	"townforge/internal/database"
	"townforge/internal/locales"
	"townforge/internal/network"
	persistlog "townforge/internal/persistence/log"
	"townforge/internal/protocol"
	"townforge/internal/registry"
	"townforge/internal/user"
	"townforge/internal/validator"
)

// Deps are the process-wide collaborators, acquired once at startup.
type Deps struct {
	Config    config.Config
	DB        database.Database
	Broker    network.Broker
	Towns     *registry.Towns
	Claims    *registry.ClaimWorlds
	Invites   *registry.Invites
	Users     user.Provider
	Validator *validator.Validator
	Locales   *locales.Locales
	Log       *log.Logger
	Audit     *persistlog.AuditWriter
}

// Manager bundles the three command surfaces. Every command body runs
// under m.mu, so a check-then-act sequence can never interleave with
// another local task; cross-server races are caught by the database's
// uniqueness constraints instead.
type Manager struct {
	deps Deps

	mu sync.Mutex
	wg sync.WaitGroup

	towns  *Towns
	claims *Claims
	admin  *Admin
}

func New(deps Deps) *Manager {
	m := &Manager{deps: deps}
	m.towns = &Towns{m: m}
	m.claims = &Claims{m: m}
	m.admin = &Admin{m: m}
	return m
}

func (m *Manager) Towns() *Towns   { return m.towns }
func (m *Manager) Claims() *Claims { return m.claims }
func (m *Manager) Admin() *Admin   { return m.admin }

// SetBroker installs the bus client. Wiring is two-phase because the
// broker's inbound handler is this manager.
func (m *Manager) SetBroker(b network.Broker) { m.deps.Broker = b }

// SetUserProvider installs the online-presence lookup. Two-phase for
// the same reason: the gateway dispatches into this manager.
func (m *Manager) SetUserProvider(p user.Provider) { m.deps.Users = p }

// Wait blocks until every in-flight task has finished. Used at
// shutdown and by tests.
func (m *Manager) Wait() { m.wg.Wait() }

// HandleDisconnect clears per-session state when a player's connection
// drops. Pending invites are session-scoped: the sender can re-invite
// once the player is back.
func (m *Manager) HandleDisconnect(u user.User) {
	m.runTask("disconnect", nil, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.deps.Invites.DropUser(u.ID)
		return nil
	})
}

// runTask executes fn off the calling goroutine. fn reports its own
// validation failures to the user and returns nil for them; a non-nil
// error is an infrastructure failure, which is logged, audited, and
// reported generically. A task never propagates a fault out of its
// goroutine.
func (m *Manager) runTask(name string, caller user.OnlineUser, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.deps.Log.Printf("panic in %s: %v", name, r)
				if caller != nil {
					caller.SendMessage(m.deps.Locales.Get("error_internal"))
				}
			}
		}()
		if err := fn(context.Background()); err != nil {
			m.deps.Log.Printf("%s: %v", name, err)
			m.audit(persistlog.Record{Direction: "error", Type: name, Detail: err.Error()})
			if caller != nil {
				caller.SendMessage(m.deps.Locales.Get("error_internal"))
			}
		}
	}()
}

// tell sends a rendered locale line to the user.
func (m *Manager) tell(u user.OnlineUser, key string, args ...any) {
	u.SendMessage(m.deps.Locales.Get(key, args...))
}

// broadcast publishes a mutation to peers. The local state is already
// committed when this runs, so a publish failure is not rolled back:
// it is recorded as a propagation miss for the operator.
func (m *Manager) broadcast(msgType string, target protocol.Target, payload any, townID int64) {
	if !m.deps.Config.CrossServer {
		return
	}
	msg, err := protocol.NewMessage(msgType, m.deps.Config.ServerName, target, payload)
	if err == nil {
		err = m.deps.Broker.Send(msg)
	}
	if err != nil {
		m.deps.Log.Printf("broadcast %s failed, peers out of sync until refresh: %v", msgType, err)
		m.audit(persistlog.Record{Direction: "miss", Type: msgType, TownID: townID, Detail: err.Error()})
		return
	}
	m.audit(persistlog.Record{Direction: "out", Type: msgType, TownID: townID})
}

func (m *Manager) audit(rec persistlog.Record) {
	if m.deps.Audit == nil {
		return
	}
	if rec.Origin == "" {
		rec.Origin = m.deps.Config.ServerName
	}
	if err := m.deps.Audit.Write(rec); err != nil {
		m.deps.Log.Printf("audit write failed: %v", err)
	}
}
