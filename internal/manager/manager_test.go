package manager_test

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"townforge/internal/claim"
	"townforge/internal/config"
	"townforge/internal/database"
	"townforge/internal/locales"
	"townforge/internal/manager"
	"townforge/internal/protocol"
	"townforge/internal/registry"
	"townforge/internal/town"
	"townforge/internal/user"
	"townforge/internal/validator"
)

// fakeDB is an in-memory Database with the same uniqueness guarantees
// as the sqlite schema: unique town names, one town per user.
type fakeDB struct {
	mu      sync.Mutex
	nextID  int64
	towns   map[int64]*town.Town
	members map[uuid.UUID]int64
	users   map[string]user.User
	worlds  map[claim.WorldID]*claim.World
	writes  map[claim.WorldID]int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		towns:   make(map[int64]*town.Town),
		members: make(map[uuid.UUID]int64),
		users:   make(map[string]user.User),
		worlds:  make(map[claim.WorldID]*claim.World),
		writes:  make(map[claim.WorldID]int),
	}
}

func (f *fakeDB) CreateTown(ctx context.Context, name string, founder user.User) (*town.Town, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.towns {
		if strings.EqualFold(t.Name, name) {
			return nil, database.ErrTownNameTaken
		}
	}
	if _, taken := f.members[founder.ID]; taken {
		return nil, database.ErrUserAlreadyMember
	}
	f.nextID++
	t := town.New(f.nextID, name, founder.ID)
	f.towns[t.ID] = t.Clone()
	f.members[founder.ID] = t.ID
	return t, nil
}

func (f *fakeDB) DeleteTown(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.towns, id)
	for uid, tid := range f.members {
		if tid == id {
			delete(f.members, uid)
		}
	}
	return nil
}

func (f *fakeDB) GetTown(ctx context.Context, id int64) (*town.Town, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.towns[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return t.Clone(), nil
}

func (f *fakeDB) ListTowns(ctx context.Context) ([]*town.Town, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*town.Town
	for _, t := range f.towns {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (f *fakeDB) UpdateTown(ctx context.Context, t *town.Town) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.towns {
		if other.ID != t.ID && strings.EqualFold(other.Name, t.Name) {
			return database.ErrTownNameTaken
		}
	}
	f.towns[t.ID] = t.Clone()
	return nil
}

func (f *fakeDB) CreateMember(ctx context.Context, townID int64, userID uuid.UUID, privileges []town.Privilege) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.members[userID]; taken {
		return database.ErrUserAlreadyMember
	}
	f.members[userID] = townID
	if t, ok := f.towns[townID]; ok {
		t.AddMember(userID, privileges)
	}
	return nil
}

func (f *fakeDB) DeleteMember(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tid, ok := f.members[userID]; ok {
		if t, ok := f.towns[tid]; ok {
			t.RemoveMember(userID)
		}
	}
	delete(f.members, userID)
	return nil
}

func (f *fakeDB) GetUser(ctx context.Context, handle string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[strings.ToLower(handle)]
	if !ok {
		return user.User{}, database.ErrNotFound
	}
	return u, nil
}

func (f *fakeDB) SaveUser(ctx context.Context, u user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[strings.ToLower(u.Name)] = u
	return nil
}

func (f *fakeDB) GetClaimWorld(ctx context.Context, id claim.WorldID) (*claim.World, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.worlds[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return w, nil
}

func (f *fakeDB) ListClaimWorlds(ctx context.Context) ([]*claim.World, error) {
	return nil, nil
}

func (f *fakeDB) UpdateClaimWorld(ctx context.Context, w *claim.World) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := claim.NewWorld(w.ID)
	for _, c := range w.All() {
		snapshot.Put(c.Clone())
	}
	f.worlds[w.ID] = snapshot
	f.writes[w.ID]++
	return nil
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) worldWrites(id claim.WorldID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[id]
}

func (f *fakeDB) memberOf(userID uuid.UUID) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.members[userID]
	return id, ok
}

// testUser is an OnlineUser capturing every chat line it receives.
type testUser struct {
	u    user.User
	mu   sync.Mutex
	msgs []string
}

func newTestUser(name string) *testUser {
	return &testUser{u: user.User{ID: uuid.New(), Name: name}}
}

func (t *testUser) User() user.User { return t.u }

func (t *testUser) SendMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, text)
}

func (t *testUser) received(substr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	mu     sync.Mutex
	online map[string]user.OnlineUser
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{online: make(map[string]user.OnlineUser)}
}

func (p *fakeProvider) FindOnline(name string) (user.OnlineUser, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.online[strings.ToLower(name)]
	return u, ok
}

func (p *fakeProvider) connect(u *testUser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[strings.ToLower(u.u.Name)] = u
}

// testBus wires managers together the way the relay does: a send fans
// out to every other server after a JSON round trip.
type testBus struct {
	mu    sync.Mutex
	peers map[string]*manager.Manager
}

func newTestBus() *testBus {
	return &testBus{peers: make(map[string]*manager.Manager)}
}

type busClient struct {
	name string
	bus  *testBus
}

func (c *busClient) Send(msg protocol.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	decoded, err := protocol.DecodeMessage(raw)
	if err != nil {
		return err
	}
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	for name, peer := range c.bus.peers {
		if name == c.name {
			continue
		}
		if decoded.Target.Scope == protocol.TargetServer && decoded.Target.Selector != name {
			continue
		}
		peer.HandleMessage(decoded)
	}
	return nil
}

func (c *busClient) Close() error { return nil }

type server struct {
	name    string
	mgr     *manager.Manager
	towns   *registry.Towns
	claims  *registry.ClaimWorlds
	invites *registry.Invites
	users   *fakeProvider
}

func newCluster(t *testing.T, db database.Database, names ...string) []*server {
	t.Helper()
	loc, err := locales.Load("")
	if err != nil {
		t.Fatalf("locales: %v", err)
	}
	bus := newTestBus()
	var servers []*server
	for _, name := range names {
		s := &server{
			name:    name,
			towns:   registry.NewTowns(),
			claims:  registry.NewClaimWorlds(),
			invites: registry.NewInvites(),
			users:   newFakeProvider(),
		}
		s.mgr = manager.New(manager.Deps{
			Config:    config.Config{ServerName: name, CrossServer: true},
			DB:        db,
			Broker:    &busClient{name: name, bus: bus},
			Towns:     s.towns,
			Claims:    s.claims,
			Invites:   s.invites,
			Users:     s.users,
			Validator: validator.New(),
			Locales:   loc,
			Log:       log.New(io.Discard, "", 0),
		})
		bus.peers[name] = s.mgr
		servers = append(servers, s)
	}
	return servers
}

// settle waits out task chains: a command task can schedule inbound
// tasks on peers, so wait a few rounds across all servers.
func settle(servers ...*server) {
	for i := 0; i < 3; i++ {
		for _, s := range servers {
			s.mgr.Wait()
		}
	}
}

func TestCreateTown_Scenario(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	s1.users.connect(alice)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)

	tn, ok := s1.towns.ByName("Avalon")
	if !ok {
		t.Fatalf("Avalon missing from origin registry")
	}
	if tn.Mayor != alice.u.ID || !tn.Member(alice.u.ID) {
		t.Fatalf("founder must be mayor and member")
	}
	if alice.received("founded") != 1 {
		t.Fatalf("creator not notified")
	}
	// The broadcast refreshes the peer's registry from the database.
	if _, ok := s2.towns.ByName("Avalon"); !ok {
		t.Fatalf("peer registry did not converge")
	}
}

func TestCreateTown_AlreadyInTown(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	s1.users.connect(alice)
	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1)

	s1.mgr.Towns().CreateTown(alice, "Shire")
	settle(s1)

	if alice.received("already in a town") != 1 {
		t.Fatalf("expected already-in-town rejection")
	}
	if _, ok := s1.towns.ByName("Shire"); ok {
		t.Fatalf("rejected creation must not produce a town")
	}
	if _, err := db.GetTown(context.Background(), 2); err == nil {
		t.Fatalf("rejected creation must not reach the database")
	}
}

func TestCreateTown_InvalidName(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	s1.users.connect(alice)
	s1.mgr.Towns().CreateTown(alice, "x")
	settle(s1)

	if alice.received("not allowed") != 1 {
		t.Fatalf("expected invalid-name rejection")
	}
	if s1.towns.Count() != 0 {
		t.Fatalf("no town should exist")
	}
}

func TestInviteAccept_SameServer(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	bob := newTestUser("bob")
	s1.users.connect(alice)
	s1.users.connect(bob)
	_ = db.SaveUser(context.Background(), bob.u)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1)
	s1.mgr.Towns().InviteMember(alice, "bob")
	settle(s1)

	if bob.received("invited you to join Avalon") != 1 {
		t.Fatalf("bob did not receive the invite")
	}
	if alice.received("Invited bob") != 1 {
		t.Fatalf("alice did not get a confirmation")
	}

	s1.mgr.Towns().HandleInviteReply(bob, true, "")
	settle(s1)

	tn, _ := s1.towns.ByName("Avalon")
	if !tn.Member(bob.u.ID) {
		t.Fatalf("bob should be a member after accepting")
	}
	if tn.HasPrivilege(bob.u.ID, town.PrivilegeInvite) {
		t.Fatalf("baseline member must not hold INVITE")
	}
	if s1.invites.Count(bob.u.ID) != 0 {
		t.Fatalf("accepted invite must be removed")
	}

	// A second reply finds nothing: the invite was consumed.
	s1.mgr.Towns().HandleInviteReply(bob, true, "")
	settle(s1)
	if bob.received("no pending invites") != 1 {
		t.Fatalf("consumed invite must not match again")
	}
}

func TestInvite_CrossServer(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	bob := newTestUser("bob")
	s1.users.connect(alice)
	s2.users.connect(bob) // bob plays on the other server
	_ = db.SaveUser(context.Background(), bob.u)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)
	s1.mgr.Towns().InviteMember(alice, "bob")
	settle(s1, s2)

	if bob.received("invited you to join Avalon") != 1 {
		t.Fatalf("cross-server invite not delivered")
	}

	s2.mgr.Towns().HandleInviteReply(bob, true, "")
	settle(s1, s2)

	for _, s := range cluster {
		tn, ok := s.towns.ByName("Avalon")
		if !ok || !tn.Member(bob.u.ID) {
			t.Fatalf("%s: bob's membership did not converge", s.name)
		}
	}
}

func TestInvite_DeclineConsumes(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	bob := newTestUser("bob")
	s1.users.connect(alice)
	s1.users.connect(bob)
	_ = db.SaveUser(context.Background(), bob.u)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1)
	s1.mgr.Towns().InviteMember(alice, "bob")
	settle(s1)

	s1.mgr.Towns().HandleInviteReply(bob, false, "")
	settle(s1)

	if bob.received("Declined") != 1 {
		t.Fatalf("decline not acknowledged to bob")
	}
	tn, _ := s1.towns.ByName("Avalon")
	if tn.Member(bob.u.ID) {
		t.Fatalf("declined invite must not grant membership")
	}
	s1.mgr.Towns().HandleInviteReply(bob, true, "")
	settle(s1)
	if bob.received("no pending invites") != 1 {
		t.Fatalf("declined invite must be consumed")
	}
}

func TestConcurrentAccepts_OneTownPerUser(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	carol := newTestUser("carol")
	s1.users.connect(alice)
	s2.users.connect(carol)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	s2.mgr.Towns().CreateTown(carol, "Shire")
	settle(s1, s2)

	// Bob holds an invite on each server, as if each town's inviter
	// reached him where he was connected at the time.
	bobOnS1 := newTestUser("bob")
	bobOnS2 := &testUser{u: bobOnS1.u}
	s1.users.connect(bobOnS1)
	s2.users.connect(bobOnS2)
	avalon, _ := s1.towns.ByName("Avalon")
	shire, _ := s2.towns.ByName("Shire")
	s1.mgr.Towns().HandleInboundInvite(bobOnS1, town.NewInvite(avalon.ID, alice.u, "bob"))
	s2.mgr.Towns().HandleInboundInvite(bobOnS2, town.NewInvite(shire.ID, carol.u, "bob"))
	settle(s1, s2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s1.mgr.Towns().HandleInviteReply(bobOnS1, true, "")
	}()
	go func() {
		defer wg.Done()
		s2.mgr.Towns().HandleInviteReply(bobOnS2, true, "")
	}()
	wg.Wait()
	settle(s1, s2)

	if _, ok := db.memberOf(bobOnS1.u.ID); !ok {
		t.Fatalf("bob should have joined exactly one town, joined none")
	}
	accepts := bobOnS1.received("Welcome to") + bobOnS2.received("Welcome to")
	rejects := bobOnS1.received("already in a town") + bobOnS2.received("already in a town")
	if accepts != 1 {
		t.Fatalf("accepts=%d want exactly 1", accepts)
	}
	if rejects != 1 {
		t.Fatalf("rejects=%d want exactly 1 (the losing accept)", rejects)
	}
}

func TestDeleteTown_CascadeAndIdempotence(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	s1.users.connect(alice)
	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)

	s1.mgr.Claims().CreateClaim(alice, "overworld", claim.Chunk{X: 0, Z: 0})
	settle(s1, s2)
	s1.mgr.Claims().CreateClaim(alice, "overworld", claim.Chunk{X: 0, Z: 1})
	settle(s1, s2)

	avalon, _ := s1.towns.ByName("Avalon")
	if got := s2.claims.TownClaimCount(avalon.ID); got != 2 {
		t.Fatalf("peer claims=%d want 2", got)
	}

	writesBefore := db.worldWrites("overworld")
	s1.mgr.Towns().DeleteTown(alice)
	settle(s1, s2)

	// Cascade: both processes released every claim.
	for _, s := range cluster {
		if got := s.claims.TownClaimCount(avalon.ID); got != 0 {
			t.Fatalf("%s: claims=%d want 0 after town delete", s.name, got)
		}
		if _, ok := s.towns.Get(avalon.ID); ok {
			t.Fatalf("%s: town still present after delete", s.name)
		}
	}
	// The changed world was persisted exactly once by the origin.
	if got := db.worldWrites("overworld") - writesBefore; got != 1 {
		t.Fatalf("world writes=%d want 1", got)
	}

	// Duplicate delivery of the broadcast is a no-op.
	msg, err := protocol.NewMessage(protocol.TypeTownDelete, "s1",
		protocol.Target{Scope: protocol.TargetAll}, avalon.ID)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	s2.mgr.HandleMessage(msg)
	settle(s2)
	if _, ok := s2.towns.Get(avalon.ID); ok {
		t.Fatalf("duplicate TOWN_DELETE resurrected the town")
	}
}

func TestClaimUpdateBeforeTownUpdate_Converges(t *testing.T) {
	db := newFakeDB()
	// Separate single-server clusters share the database but not a bus,
	// so broadcasts can be replayed to the peer by hand in any order.
	origin := newCluster(t, db, "s1")[0]
	peer := newCluster(t, db, "s2")[0]

	alice := newTestUser("alice")
	origin.users.connect(alice)
	origin.mgr.Towns().CreateTown(alice, "Avalon")
	settle(origin)
	chunk := claim.Chunk{X: 6, Z: 6}
	origin.mgr.Claims().CreateClaim(alice, "overworld", chunk)
	settle(origin)

	avalon, _ := origin.towns.ByName("Avalon")
	created, ok := origin.claims.At("overworld", chunk)
	if !ok {
		t.Fatalf("claim missing on origin")
	}

	// The bus gives no cross-sender ordering: the claim broadcast can
	// reach a peer before the town broadcast does.
	claimMsg, err := protocol.NewMessage(protocol.TypeClaimUpdate, "s1",
		protocol.Target{Scope: protocol.TargetAll}, created)
	if err != nil {
		t.Fatalf("build CLAIM_UPDATE: %v", err)
	}
	peer.mgr.HandleMessage(claimMsg)
	settle(peer)

	if _, ok := peer.claims.At("overworld", chunk); !ok {
		t.Fatalf("claim arriving before the town broadcast was dropped")
	}
	if _, ok := peer.towns.Get(avalon.ID); !ok {
		t.Fatalf("town not refreshed from the database for the early claim")
	}

	townMsg, err := protocol.NewMessage(protocol.TypeTownUpdate, "s1",
		protocol.Target{Scope: protocol.TargetAll}, avalon.ID)
	if err != nil {
		t.Fatalf("build TOWN_UPDATE: %v", err)
	}
	peer.mgr.HandleMessage(townMsg)
	settle(peer)

	tn, ok := peer.towns.Get(avalon.ID)
	if !ok || !tn.Member(alice.u.ID) {
		t.Fatalf("town did not converge after the late broadcast")
	}
	if _, ok := peer.claims.At("overworld", chunk); !ok {
		t.Fatalf("claim lost after the late town broadcast")
	}
}

func TestClaimUpdateForDeletedTownStaysDropped(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	s1.users.connect(alice)
	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)
	avalon, _ := s1.towns.ByName("Avalon")
	s1.mgr.Towns().DeleteTown(alice)
	settle(s1, s2)

	// A claim broadcast that raced the deletion arrives afterwards. The
	// tombstone short-circuits it without consulting the database.
	stale := &claim.Claim{World: "overworld", Chunk: claim.Chunk{X: 8, Z: 8}, TownID: avalon.ID, Type: claim.TypeRegular}
	msg, err := protocol.NewMessage(protocol.TypeClaimUpdate, "s1",
		protocol.Target{Scope: protocol.TargetAll}, stale)
	if err != nil {
		t.Fatalf("build CLAIM_UPDATE: %v", err)
	}
	s2.mgr.HandleMessage(msg)
	settle(s2)

	if _, ok := s2.claims.At("overworld", stale.Chunk); ok {
		t.Fatalf("claim for a deleted town was applied")
	}
	if _, ok := s2.towns.Get(avalon.ID); ok {
		t.Fatalf("deleted town reappeared")
	}
}

func TestStaleTownUpdate_DoesNotResurrect(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	s1.users.connect(alice)
	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)
	avalon, _ := s1.towns.ByName("Avalon")

	s1.mgr.Towns().DeleteTown(alice)
	settle(s1, s2)

	// A TOWN_UPDATE that was in flight when the town died arrives late.
	msg, err := protocol.NewMessage(protocol.TypeTownUpdate, "s1",
		protocol.Target{Scope: protocol.TargetAll}, avalon.ID)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	s2.mgr.HandleMessage(msg)
	settle(s2)

	if _, ok := s2.towns.Get(avalon.ID); ok {
		t.Fatalf("stale TOWN_UPDATE resurrected a deleted town")
	}
}

func TestCreateClaim_ConflictLeavesStateUntouched(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	bob := newTestUser("bob")
	s1.users.connect(alice)
	s1.users.connect(bob)
	_ = db.SaveUser(context.Background(), bob.u)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1)
	s1.mgr.Claims().CreateClaim(alice, "overworld", claim.Chunk{X: 7, Z: 7})
	settle(s1)

	// Bob founds his own town and tries to take the same chunk.
	s1.mgr.Towns().CreateTown(bob, "Shire")
	settle(s1)
	writesBefore := db.worldWrites("overworld")
	s1.mgr.Claims().CreateClaim(bob, "overworld", claim.Chunk{X: 7, Z: 7})
	settle(s1)

	if bob.received("already claimed by Avalon") != 1 {
		t.Fatalf("expected chunk-claimed rejection naming the owner")
	}
	avalon, _ := s1.towns.ByName("Avalon")
	c, ok := s1.claims.At("overworld", claim.Chunk{X: 7, Z: 7})
	if !ok || c.TownID != avalon.ID {
		t.Fatalf("claim ownership changed on a rejected create")
	}
	if db.worldWrites("overworld") != writesBefore {
		t.Fatalf("rejected create must not persist anything")
	}
}

func TestClaimLifecycle_PlotMembers(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	bob := newTestUser("bob")
	s1.users.connect(alice)
	_ = db.SaveUser(context.Background(), bob.u)

	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)
	chunk := claim.Chunk{X: 2, Z: 3}
	s1.mgr.Claims().CreateClaim(alice, "overworld", chunk)
	settle(s1, s2)

	// Plot members require PLOT type.
	s1.mgr.Claims().AddPlotMember(alice, "overworld", chunk, "bob")
	settle(s1, s2)
	if alice.received("not a plot") != 1 {
		t.Fatalf("expected not-a-plot rejection")
	}

	s1.mgr.Claims().MakeClaimPlot(alice, "overworld", chunk)
	settle(s1, s2)
	s1.mgr.Claims().AddPlotMember(alice, "overworld", chunk, "bob")
	settle(s1, s2)

	c, ok := s2.claims.At("overworld", chunk)
	if !ok || c.Type != claim.TypePlot || !c.PlotMembers[bob.u.ID] {
		t.Fatalf("peer did not converge on plot membership: %+v", c)
	}

	// Reverting to REGULAR clears the plot member set everywhere.
	s1.mgr.Claims().MakeClaimRegular(alice, "overworld", chunk)
	settle(s1, s2)
	c, _ = s2.claims.At("overworld", chunk)
	if c.Type != claim.TypeRegular || c.PlotMembers != nil {
		t.Fatalf("plot members survived reclassification: %+v", c)
	}
}

func TestRenameTown_Converges(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1", "s2")
	s1, s2 := cluster[0], cluster[1]

	alice := newTestUser("alice")
	s1.users.connect(alice)
	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1, s2)

	s1.mgr.Towns().RenameTown(alice, "Camelot")
	settle(s1, s2)

	if _, ok := s2.towns.ByName("Camelot"); !ok {
		t.Fatalf("rename did not converge on the peer")
	}
	if _, ok := s2.towns.ByName("Avalon"); ok {
		t.Fatalf("old name still resolves on the peer")
	}
}

func TestDeleteAllClaims_PersistsOnlyChangedWorlds(t *testing.T) {
	db := newFakeDB()
	cluster := newCluster(t, db, "s1")
	s1 := cluster[0]

	alice := newTestUser("alice")
	s1.users.connect(alice)
	s1.mgr.Towns().CreateTown(alice, "Avalon")
	settle(s1)

	s1.mgr.Claims().CreateClaim(alice, "overworld", claim.Chunk{X: 0, Z: 0})
	s1.mgr.Claims().CreateClaim(alice, "nether", claim.Chunk{X: 1, Z: 1})
	settle(s1)
	// A world with no Avalon claims must not be rewritten.
	seedOtherWorld(t, s1, db, "the_end")

	overworldBefore := db.worldWrites("overworld")
	netherBefore := db.worldWrites("nether")
	endBefore := db.worldWrites("the_end")

	s1.mgr.Claims().DeleteAllClaims(alice)
	settle(s1)

	if got := s1.claims.TotalClaims(); got != 1 {
		t.Fatalf("claims=%d want 1 (the other town's)", got)
	}
	if db.worldWrites("overworld") != overworldBefore+1 {
		t.Fatalf("overworld should be persisted once")
	}
	if db.worldWrites("nether") != netherBefore+1 {
		t.Fatalf("nether should be persisted once")
	}
	if db.worldWrites("the_end") != endBefore {
		t.Fatalf("unchanged world must not be persisted")
	}
}

// seedOtherWorld plants a foreign town's claim in a world so cascade
// tests can tell changed worlds from untouched ones.
func seedOtherWorld(t *testing.T, s *server, db *fakeDB, world claim.WorldID) {
	t.Helper()
	foreign := &claim.Claim{World: world, Chunk: claim.Chunk{X: 9, Z: 9}, TownID: 999, Type: claim.TypeRegular}
	err := s.claims.With(world, func(w *claim.World) error {
		w.Put(foreign)
		return db.UpdateClaimWorld(context.Background(), w)
	})
	if err != nil {
		t.Fatalf("seed world %s: %v", world, err)
	}
}
