package ecs_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	ecs "github.com/DangerosoDavo/rowecs"
	"github.com/DangerosoDavo/rowecs/ecs/storage"
)

type position struct{ X, Y float64 }

type velocity struct{ DX, DY float64 }

type frozen struct{}

type fixture struct {
	world *ecs.World
	pos   *ecs.Component[position]
	vel   *ecs.Component[velocity]
	froze *ecs.Component[frozen]
}

func newFixture(t *testing.T, opts ...ecs.WorldOption) fixture {
	t.Helper()
	w := ecs.NewWorld(opts...)
	pos, err := ecs.RegisterComponent[position](w, "position", ecs.SeqFormat())
	if err != nil {
		t.Fatalf("register position: %v", err)
	}
	vel, err := ecs.RegisterComponent[velocity](w, "velocity", ecs.SeqFormat())
	if err != nil {
		t.Fatalf("register velocity: %v", err)
	}
	froze, err := ecs.RegisterComponent[frozen](w, "frozen", ecs.SeqFormat())
	if err != nil {
		t.Fatalf("register frozen: %v", err)
	}
	return fixture{world: w, pos: pos, vel: vel, froze: froze}
}

func (f fixture) system(t *testing.T, cfg ecs.SystemConfig) *ecs.System {
	t.Helper()
	sys, err := f.world.NewSystem(cfg)
	if err != nil {
		t.Fatalf("new system %s: %v", cfg.Name, err)
	}
	return sys
}

func (f fixture) spawn(t *testing.T, values ...ecs.ComponentValue) ecs.EntityRef {
	t.Helper()
	e, err := f.world.NewEntity(values...)
	if err != nil {
		t.Fatalf("new entity: %v", err)
	}
	return e
}

func TestWorldMembershipFollowsNegation(t *testing.T) {
	f := newFixture(t)
	sys := f.system(t, ecs.SystemConfig{
		Name:     "moving",
		Requires: []ecs.ComponentTypeID{f.pos.ID()},
		Negates:  []ecs.ComponentTypeID{f.froze.ID()},
	})

	var added, removed []ecs.EntityRef
	if err := sys.OnAdded(func(it *ecs.Item) { added = append(added, it.Entity()) }); err != nil {
		t.Fatalf("on added: %v", err)
	}
	if err := sys.OnRemoved(func(it *ecs.Item) {
		if !sys.Contains(it.Entity()) {
			t.Fatalf("removed hook must observe a live row")
		}
		removed = append(removed, it.Entity())
	}); err != nil {
		t.Fatalf("on removed: %v", err)
	}

	e := f.spawn(t, f.pos.Value(position{X: 1}))
	if !sys.Contains(e) || len(added) != 1 {
		t.Fatalf("expected entity with only position to join, added=%d", len(added))
	}

	if err := f.froze.Add(e, frozen{}); err != nil {
		t.Fatalf("add frozen: %v", err)
	}
	if sys.Contains(e) || len(removed) != 1 {
		t.Fatalf("expected negated component to evict, removed=%d", len(removed))
	}

	if err := f.froze.Remove(e); err != nil {
		t.Fatalf("remove frozen: %v", err)
	}
	if !sys.Contains(e) || len(added) != 2 {
		t.Fatalf("expected entity to rejoin, added=%d", len(added))
	}
}

func TestWorldSealRejectsConfiguration(t *testing.T) {
	f := newFixture(t)
	sys := f.system(t, ecs.SystemConfig{Name: "s", Requires: []ecs.ComponentTypeID{f.pos.ID()}})
	f.spawn(t)

	if !f.world.Sealed() {
		t.Fatalf("first entity should seal the world")
	}
	if _, err := ecs.RegisterComponent[int](f.world, "late", ecs.SeqFormat()); !errors.Is(err, ecs.ErrSealed) {
		t.Fatalf("expected ErrSealed for component, got %v", err)
	}
	if _, err := f.world.NewSystem(ecs.SystemConfig{Name: "late", Requires: []ecs.ComponentTypeID{f.pos.ID()}}); !errors.Is(err, ecs.ErrSealed) {
		t.Fatalf("expected ErrSealed for system, got %v", err)
	}
	hooks := []error{
		sys.OnAdded(func(*ecs.Item) {}),
		sys.OnRemoved(func(*ecs.Item) {}),
		sys.OnAddedCallback(func(*ecs.Item) {}),
		sys.OnRemovedCallback(func(*ecs.Item) {}),
		f.pos.OnDelete(func(ecs.ComponentIndex, *position) {}),
	}
	for i, err := range hooks {
		if !errors.Is(err, ecs.ErrSealed) {
			t.Fatalf("hook %d: expected ErrSealed, got %v", i, err)
		}
	}
	if err := f.world.Seal(); err != nil {
		t.Fatalf("seal should be idempotent: %v", err)
	}
}

func TestNewSystemValidation(t *testing.T) {
	f := newFixture(t)
	pos, vel, froze := f.pos.ID(), f.vel.ID(), f.froze.ID()
	f.system(t, ecs.SystemConfig{Name: "owner", Requires: []ecs.ComponentTypeID{pos}, Owns: []ecs.ComponentTypeID{vel}})
	if _, err := f.froze.Create(frozen{}); err != nil {
		t.Fatalf("standalone create: %v", err)
	}

	cases := []struct {
		name string
		cfg  ecs.SystemConfig
		want error
	}{
		{"empty signature", ecs.SystemConfig{Name: "a", Negates: []ecs.ComponentTypeID{froze}}, ecs.ErrEmptySignature},
		{"duplicate requires", ecs.SystemConfig{Name: "b", Requires: []ecs.ComponentTypeID{pos, pos}}, ecs.ErrDuplicateComponent},
		{"required and negated", ecs.SystemConfig{Name: "c", Requires: []ecs.ComponentTypeID{pos}, Negates: []ecs.ComponentTypeID{pos}}, ecs.ErrRequiredAndNegated},
		{"owned and negated", ecs.SystemConfig{Name: "c2", Owns: []ecs.ComponentTypeID{froze}, Negates: []ecs.ComponentTypeID{froze}}, ecs.ErrRequiredAndNegated},
		{"unknown type", ecs.SystemConfig{Name: "d", Requires: []ecs.ComponentTypeID{99}}, ecs.ErrComponentNotRegistered},
		{"duplicate name", ecs.SystemConfig{Name: "owner", Requires: []ecs.ComponentTypeID{pos}}, ecs.ErrSystemAlreadyRegistered},
		{"second owner", ecs.SystemConfig{Name: "e", Owns: []ecs.ComponentTypeID{vel}}, ecs.ErrOwnershipConflict},
		{"owned with instances", ecs.SystemConfig{Name: "f", Owns: []ecs.ComponentTypeID{froze}}, ecs.ErrOwnedHasInstances},
		{"negative capacity", ecs.SystemConfig{Name: "g", Requires: []ecs.ComponentTypeID{pos}, Capacity: -1}, ecs.ErrZeroCapacity},
		{"unbounded array index", ecs.SystemConfig{Name: "h", Requires: []ecs.ComponentTypeID{pos}, Index: storage.IndexArray}, ecs.ErrZeroCapacity},
	}
	for _, tc := range cases {
		if _, err := f.world.NewSystem(tc.cfg); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, ok := f.world.System("a"); ok {
		t.Fatalf("rejected systems must not be registered")
	}
}

func TestWorldDeleteEntityIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sys := f.system(t, ecs.SystemConfig{Name: "s", Requires: []ecs.ComponentTypeID{f.pos.ID(), f.vel.ID()}})

	e := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{}))
	if sys.Count() != 1 || f.pos.Count() != 1 {
		t.Fatalf("expected one member and one position")
	}

	if err := f.world.DeleteEntity(e); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.world.DeleteEntity(e); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if sys.Count() != 0 || f.pos.Count() != 0 || f.vel.Count() != 0 {
		t.Fatalf("expected everything released, rows=%d pos=%d vel=%d", sys.Count(), f.pos.Count(), f.vel.Count())
	}
	if f.world.Alive(e) || f.world.EntityCount() != 0 {
		t.Fatalf("entity should be gone")
	}
}

func TestWorldAddComponentsErrors(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, f.pos.Value(position{}))

	if err := f.pos.Add(e, position{}); !errors.Is(err, ecs.ErrComponentAlreadyAttached) {
		t.Fatalf("expected ErrComponentAlreadyAttached, got %v", err)
	}
	if err := f.world.AddComponents(e, f.vel.Value(velocity{}), f.vel.Value(velocity{})); !errors.Is(err, ecs.ErrDuplicateComponent) {
		t.Fatalf("expected ErrDuplicateComponent, got %v", err)
	}
	if f.world.Has(e, f.vel.ID()) {
		t.Fatalf("rejected batch must not attach anything")
	}

	other := ecs.NewWorld()
	foreign, err := ecs.RegisterComponent[position](other, "position", ecs.SeqFormat())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.world.AddComponents(e, foreign.Value(position{})); !errors.Is(err, ecs.ErrComponentNotRegistered) {
		t.Fatalf("expected foreign value rejected, got %v", err)
	}

	if err := f.world.DeleteEntity(e); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.vel.Add(e, velocity{}); !errors.Is(err, ecs.ErrEntityNotAlive) {
		t.Fatalf("expected ErrEntityNotAlive, got %v", err)
	}
	if err := f.vel.Remove(e); err != nil {
		t.Fatalf("remove on stale entity should be a no-op: %v", err)
	}
}

func TestWorldCapacityExhaustionRollsBack(t *testing.T) {
	w := ecs.NewWorld()
	pos, err := ecs.RegisterComponent[position](w, "position", ecs.ArrayFormat(1))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	vel, err := ecs.RegisterComponent[velocity](w, "velocity", ecs.SeqFormat())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := w.NewEntity(pos.Value(position{})); err != nil {
		t.Fatalf("first entity: %v", err)
	}
	_, err = w.NewEntity(vel.Value(velocity{}), pos.Value(position{}))
	if !errors.Is(err, ecs.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if vel.Count() != 0 {
		t.Fatalf("expected velocity attached in the failed batch to be released, got %d", vel.Count())
	}
	if w.EntityCount() != 1 {
		t.Fatalf("failed entity must be released, live=%d", w.EntityCount())
	}
}

func TestWorldAddComponentsRollsBackOnSystemCapacity(t *testing.T) {
	f := newFixture(t)
	sys := f.system(t, ecs.SystemConfig{Name: "small", Requires: []ecs.ComponentTypeID{f.pos.ID()}, Capacity: 1})
	still := f.system(t, ecs.SystemConfig{Name: "still", Requires: []ecs.ComponentTypeID{f.froze.ID()}, Negates: []ecs.ComponentTypeID{f.pos.ID()}})

	f.spawn(t, f.pos.Value(position{}))
	b := f.spawn(t, f.froze.Value(frozen{}))
	if !still.Contains(b) {
		t.Fatalf("expected b in still before the add")
	}

	err := f.world.AddComponents(b, f.pos.Value(position{X: 1}), f.vel.Value(velocity{}))
	if !errors.Is(err, ecs.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if f.world.Has(b, f.pos.ID()) || f.world.Has(b, f.vel.ID()) {
		t.Fatalf("failed add must not leave components attached")
	}
	if sys.Contains(b) || !still.Contains(b) {
		t.Fatalf("membership must match the record after rollback, small=%v still=%v", sys.Contains(b), still.Contains(b))
	}
	if f.pos.Count() != 1 || f.vel.Count() != 0 {
		t.Fatalf("instances from the failed add must be released, pos=%d vel=%d", f.pos.Count(), f.vel.Count())
	}
}

func TestWorldRemoveComponentsValidatesFirst(t *testing.T) {
	f := newFixture(t)
	sys := f.system(t, ecs.SystemConfig{Name: "s", Requires: []ecs.ComponentTypeID{f.pos.ID()}})
	e := f.spawn(t, f.pos.Value(position{}))

	err := f.world.RemoveComponents(e, f.pos.ID(), ecs.ComponentTypeID(99))
	if !errors.Is(err, ecs.ErrComponentNotRegistered) {
		t.Fatalf("expected ErrComponentNotRegistered, got %v", err)
	}
	if !f.world.Has(e, f.pos.ID()) || !sys.Contains(e) || f.pos.Count() != 1 {
		t.Fatalf("rejected removal must leave the entity untouched")
	}
}

func TestWorldRandomOpsKeepMembershipAndIndexConsistent(t *testing.T) {
	for _, format := range []storage.IndexFormat{storage.IndexSeq, storage.IndexArray, storage.IndexTable} {
		t.Run(format.String(), func(t *testing.T) {
			f := newFixture(t, ecs.WithMaxEntities(128))
			pos, vel, froze := f.pos.ID(), f.vel.ID(), f.froze.ID()
			moving := f.system(t, ecs.SystemConfig{Name: "moving", Requires: []ecs.ComponentTypeID{pos, vel}, Negates: []ecs.ComponentTypeID{froze}, Index: format})
			still := f.system(t, ecs.SystemConfig{Name: "still", Requires: []ecs.ComponentTypeID{pos}, Negates: []ecs.ComponentTypeID{vel}, Index: format})

			rng := rand.New(rand.NewPCG(7, 11))
			var live []ecs.EntityRef
			for step := 0; step < 3000; step++ {
				switch op := rng.IntN(6); {
				case op == 0 || len(live) == 0:
					if len(live) < 100 {
						live = append(live, f.spawn(t, f.pos.Value(position{})))
					}
				case op == 1:
					i := rng.IntN(len(live))
					if err := f.world.DeleteEntity(live[i]); err != nil {
						t.Fatalf("delete: %v", err)
					}
					live = append(live[:i], live[i+1:]...)
				default:
					e := live[rng.IntN(len(live))]
					types := []ecs.ComponentTypeID{pos, vel, froze}
					typ := types[rng.IntN(len(types))]
					if f.world.Has(e, typ) {
						if err := f.world.RemoveComponents(e, typ); err != nil {
							t.Fatalf("remove: %v", err)
						}
						continue
					}
					var err error
					switch typ {
					case pos:
						err = f.pos.Add(e, position{})
					case vel:
						err = f.vel.Add(e, velocity{})
					default:
						err = f.froze.Add(e, frozen{})
					}
					if err != nil {
						t.Fatalf("add: %v", err)
					}
				}

				for _, e := range live {
					wantMoving := f.world.Has(e, pos, vel) && !f.world.Has(e, froze)
					wantStill := f.world.Has(e, pos) && !f.world.Has(e, vel)
					if moving.Contains(e) != wantMoving || still.Contains(e) != wantStill {
						t.Fatalf("step %d: membership mismatch for %v", step, e)
					}
				}
				for _, sys := range []*ecs.System{moving, still} {
					for row := 0; row < sys.Count(); row++ {
						got, ok := sys.Row(sys.EntityAt(row))
						if !ok || got != row {
							t.Fatalf("step %d: %s row %d indexed at %d", step, sys.Name(), row, got)
						}
					}
				}
			}
		})
	}
}

func TestWorldApplyCommands(t *testing.T) {
	f := newFixture(t)
	var e ecs.EntityRef
	cmds := []ecs.Command{
		ecs.NewCreateEntityCommand(&e, f.pos.Value(position{X: 3})),
	}
	if err := f.world.ApplyCommands(cmds); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !f.world.Has(e, f.pos.ID()) {
		t.Fatalf("expected created entity to carry position")
	}
	if err := f.world.ApplyCommands([]ecs.Command{ecs.NewAddComponentsCommand(ecs.EntityRef{})}); err == nil {
		t.Fatalf("expected zero entity to be rejected")
	}
}
