package ecs_test

import (
	"errors"
	"testing"

	ecs "github.com/DangerosoDavo/rowecs"
)

func TestComponentArrayCapacityAndReuse(t *testing.T) {
	w := ecs.NewWorld()
	pos, err := ecs.RegisterComponent[position](w, "position", ecs.ArrayFormat(4))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	refs := make([]ecs.ComponentRef, 0, 4)
	for i := 0; i < 4; i++ {
		ref, err := pos.Create(position{X: float64(i)})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if !ref.Valid() {
			t.Fatalf("expected valid ref, got %v", ref)
		}
		refs = append(refs, ref)
	}
	if _, err := pos.Create(position{}); !errors.Is(err, ecs.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded on fifth create, got %v", err)
	}

	old := refs[1]
	if old.Index != 2 {
		t.Fatalf("expected second instance in slot 2, got %d", old.Index)
	}
	if !pos.Delete(old.Index) {
		t.Fatalf("delete slot 2 failed")
	}
	if pos.Delete(old.Index) {
		t.Fatalf("second delete must be a no-op")
	}

	ref, err := pos.Create(position{X: 9})
	if err != nil {
		t.Fatalf("create after delete: %v", err)
	}
	if ref.Index != 2 || ref.Generation != old.Generation+1 {
		t.Fatalf("expected slot 2 reused at generation %d, got %v", old.Generation+1, ref)
	}
	if _, ok := pos.Get(old); ok {
		t.Fatalf("stale ref resolved against the new instance")
	}
	if v, ok := pos.Get(ref); !ok || v.X != 9 {
		t.Fatalf("expected fresh ref to resolve, got %v %v", v, ok)
	}
}

func TestComponentRejectsZeroCapacity(t *testing.T) {
	w := ecs.NewWorld()
	if _, err := ecs.RegisterComponent[position](w, "position", ecs.ArrayFormat(0)); !errors.Is(err, ecs.ErrZeroCapacity) {
		t.Fatalf("expected ErrZeroCapacity, got %v", err)
	}
	if _, err := ecs.RegisterComponent[position](w, "position", ecs.SeqFormat()); err != nil {
		t.Fatalf("failed registration must not reserve the name: %v", err)
	}
	if _, err := ecs.RegisterComponent[velocity](w, "position", ecs.SeqFormat()); !errors.Is(err, ecs.ErrComponentAlreadyRegistered) {
		t.Fatalf("expected ErrComponentAlreadyRegistered, got %v", err)
	}
}

func TestComponentStaleRefAfterEntityDelete(t *testing.T) {
	f := newFixture(t)
	e := f.spawn(t, f.pos.Value(position{X: 1}))
	ref, ok := f.world.ComponentRef(e, f.pos.ID())
	if !ok {
		t.Fatalf("expected attached ref")
	}
	if err := f.world.DeleteEntity(e); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.pos.Alive(ref.Index) {
		t.Fatalf("instance should be released with the entity")
	}

	f.spawn(t, f.pos.Value(position{X: 2}))
	if _, ok := f.pos.Get(ref); ok {
		t.Fatalf("stale ref must not resolve after reuse")
	}
}

func TestComponentDeleteDetachesFromEntity(t *testing.T) {
	f := newFixture(t)
	sys := f.system(t, ecs.SystemConfig{Name: "s", Requires: []ecs.ComponentTypeID{f.pos.ID()}})
	var deleted int
	if err := f.pos.OnDelete(func(ecs.ComponentIndex, *position) { deleted++ }); err != nil {
		t.Fatalf("on delete: %v", err)
	}

	e := f.spawn(t, f.pos.Value(position{}))
	ref, _ := f.world.ComponentRef(e, f.pos.ID())
	if !f.pos.Delete(ref.Index) {
		t.Fatalf("delete failed")
	}
	if f.world.Has(e, f.pos.ID()) || sys.Contains(e) {
		t.Fatalf("deleting an attached instance must detach it from the entity")
	}
	if deleted != 1 {
		t.Fatalf("expected one delete hook call, got %d", deleted)
	}
	if f.pos.Delete(ref.Index) || deleted != 1 {
		t.Fatalf("double delete must not fire hooks again")
	}
}

func TestComponentForAndOf(t *testing.T) {
	f := newFixture(t)
	sys := f.system(t, ecs.SystemConfig{Name: "s", Requires: []ecs.ComponentTypeID{f.pos.ID()}})
	e := f.spawn(t, f.pos.Value(position{X: 4, Y: 5}))

	p, ok := f.pos.For(e)
	if !ok || p.X != 4 {
		t.Fatalf("unexpected For result %v %v", p, ok)
	}
	if err := sys.All(func(it *ecs.Item) {
		f.pos.Of(it).Y = 50
		if f.vel.Of(it) != nil {
			t.Fatalf("entity has no velocity")
		}
	}); err != nil {
		t.Fatalf("all: %v", err)
	}
	if p.Y != 50 {
		t.Fatalf("write through Of not visible, got %v", p.Y)
	}
}

func TestOwnedComponentLivesInOwnerRows(t *testing.T) {
	f := newFixture(t)
	owner := f.system(t, ecs.SystemConfig{
		Name:     "physics",
		Requires: []ecs.ComponentTypeID{f.pos.ID()},
		Owns:     []ecs.ComponentTypeID{f.vel.ID()},
	})
	var released []velocity
	if err := f.vel.OnDelete(func(_ ecs.ComponentIndex, v *velocity) { released = append(released, *v) }); err != nil {
		t.Fatalf("on delete: %v", err)
	}
	if f.vel.Owner() != owner {
		t.Fatalf("expected physics to own velocity")
	}

	a := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{DX: 1}))
	b := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{DX: 2}))
	if owner.Count() != 2 || f.vel.Count() != 2 {
		t.Fatalf("expected two owned rows, rows=%d count=%d", owner.Count(), f.vel.Count())
	}
	if v, ok := f.vel.For(b); !ok || v.DX != 2 {
		t.Fatalf("unexpected owned value %v %v", v, ok)
	}
	if f.vel.Access(0).DX != 1 {
		t.Fatalf("owned access should address owner rows")
	}

	if _, err := f.vel.Create(velocity{}); !errors.Is(err, ecs.ErrOwnedStandalone) {
		t.Fatalf("expected ErrOwnedStandalone, got %v", err)
	}
	if _, err := f.world.NewEntity(f.vel.Value(velocity{})); !errors.Is(err, ecs.ErrOwnedRequirementsUnmet) {
		t.Fatalf("expected ErrOwnedRequirementsUnmet, got %v", err)
	}

	// Dropping the required component drops the row and the owned value.
	if err := f.pos.Remove(a); err != nil {
		t.Fatalf("remove position: %v", err)
	}
	if owner.Contains(a) || f.world.Has(a, f.vel.ID()) {
		t.Fatalf("owned component must disappear with its row")
	}
	if len(released) != 1 || released[0].DX != 1 {
		t.Fatalf("expected delete hook for the released owned value, got %v", released)
	}
	if v, ok := f.vel.For(b); !ok || v.DX != 2 {
		t.Fatalf("swap-removal must carry owned values, got %v %v", v, ok)
	}
	ref, _ := f.world.ComponentRef(b, f.vel.ID())
	if ref.Generation != b.Generation {
		t.Fatalf("owned ref should carry the entity generation")
	}
}

func TestOwnedRemovalCascades(t *testing.T) {
	f := newFixture(t)
	owner := f.system(t, ecs.SystemConfig{
		Name:     "physics",
		Requires: []ecs.ComponentTypeID{f.pos.ID()},
		Owns:     []ecs.ComponentTypeID{f.vel.ID()},
	})
	reader := f.system(t, ecs.SystemConfig{Name: "render", Requires: []ecs.ComponentTypeID{f.vel.ID()}})

	e := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{DX: 3}))
	if !owner.Contains(e) || !reader.Contains(e) {
		t.Fatalf("expected membership in owner and reader")
	}
	if err := reader.All(func(it *ecs.Item) {
		if v := f.vel.Of(it); v == nil || v.DX != 3 {
			t.Fatalf("reader should see owned value, got %v", v)
		}
	}); err != nil {
		t.Fatalf("all: %v", err)
	}

	if err := f.froze.Add(e, frozen{}); err != nil {
		t.Fatalf("add frozen: %v", err)
	}
	if err := f.pos.Remove(e); err != nil {
		t.Fatalf("remove position: %v", err)
	}
	if reader.Contains(e) {
		t.Fatalf("losing the owner row must cascade to systems reading the owned type")
	}
	if !f.world.Has(e, f.froze.ID()) {
		t.Fatalf("unrelated components must survive the cascade")
	}
}

func TestOwnedDirectRemoval(t *testing.T) {
	f := newFixture(t)
	owner := f.system(t, ecs.SystemConfig{
		Name:     "physics",
		Requires: []ecs.ComponentTypeID{f.pos.ID()},
		Owns:     []ecs.ComponentTypeID{f.vel.ID()},
	})
	e := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{}))
	if err := f.vel.Remove(e); err != nil {
		t.Fatalf("remove owned: %v", err)
	}
	if owner.Contains(e) || !f.world.Has(e, f.pos.ID()) {
		t.Fatalf("removing the owned type drops only the owner row")
	}
	if err := f.vel.Add(e, velocity{DX: 7}); err != nil {
		t.Fatalf("re-add owned: %v", err)
	}
	if v, ok := f.vel.For(e); !ok || v.DX != 7 {
		t.Fatalf("expected re-added owned value, got %v %v", v, ok)
	}
}

func TestOwnedRefResolvesItsOwnRow(t *testing.T) {
	f := newFixture(t)
	f.system(t, ecs.SystemConfig{
		Name:     "physics",
		Requires: []ecs.ComponentTypeID{f.pos.ID()},
		Owns:     []ecs.ComponentTypeID{f.vel.ID()},
	})
	a := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{DX: 1}))
	b := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{DX: 2}))
	c := f.spawn(t, f.pos.Value(position{}), f.vel.Value(velocity{DX: 3}))

	ref, ok := f.world.ComponentRef(b, f.vel.ID())
	if !ok {
		t.Fatalf("expected owned ref for b")
	}
	if v, ok := f.vel.Get(ref); !ok || v.DX != 2 {
		t.Fatalf("expected b's value, got %v %v", v, ok)
	}

	// Deleting a moves c into row 0; references keep following their entity.
	if err := f.world.DeleteEntity(a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cref, _ := f.world.ComponentRef(c, f.vel.ID())
	if v, ok := f.vel.Get(cref); !ok || v.DX != 3 {
		t.Fatalf("expected c's value after the swap, got %v %v", v, ok)
	}
	if err := f.world.DeleteEntity(b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.vel.Get(ref); ok {
		t.Fatalf("ref to a deleted entity must not resolve")
	}
}
