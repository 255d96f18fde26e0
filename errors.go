package ecs

import (
	"errors"

	"github.com/DangerosoDavo/rowecs/ecs/storage"
)

var (
	// ErrComponentAlreadyRegistered indicates an attempt to register the same component name twice.
	ErrComponentAlreadyRegistered = errors.New("ecs: component already registered")
	// ErrComponentNotRegistered signals lookup on an unknown component type.
	ErrComponentNotRegistered = errors.New("ecs: component not registered")
	// ErrSystemAlreadyRegistered indicates two systems share a name.
	ErrSystemAlreadyRegistered = errors.New("ecs: system already registered")
	// ErrEmptySignature indicates a system with neither required nor owned components.
	ErrEmptySignature = errors.New("ecs: system requires at least one component")
	// ErrDuplicateComponent indicates a component listed twice in one system signature.
	ErrDuplicateComponent = errors.New("ecs: component listed twice in system signature")
	// ErrRequiredAndNegated indicates a component both required and negated by one system.
	ErrRequiredAndNegated = errors.New("ecs: component both required and negated")
	// ErrOwnershipConflict indicates a component type claimed by a second owner.
	ErrOwnershipConflict = errors.New("ecs: component already owned by another system")
	// ErrOwnedHasInstances indicates ownership claimed after independent instances exist.
	ErrOwnedHasInstances = errors.New("ecs: owned component already has instances")
	// ErrOwnedStandalone indicates a standalone create on an owned component type.
	ErrOwnedStandalone = errors.New("ecs: owned component instances only exist inside the owner's rows")
	// ErrOwnedRequirementsUnmet indicates owned values supplied for an entity that will not join the owner.
	ErrOwnedRequirementsUnmet = errors.New("ecs: owned component supplied but owner signature not satisfied")
	// ErrZeroCapacity is returned for fixed storage declared without room.
	ErrZeroCapacity = storage.ErrZeroCapacity
	// ErrCapacityExceeded is returned when fixed storage is exhausted.
	ErrCapacityExceeded = storage.ErrCapacityExceeded
	// ErrSealed indicates configuration attempted after the world was sealed.
	ErrSealed = errors.New("ecs: world is sealed")
	// ErrNestedIteration indicates a system iterated inside its own iteration.
	ErrNestedIteration = errors.New("ecs: nested iteration of the same system")
	// ErrStructuralChangeDuringDistribute indicates a mutation while rows are partitioned across workers.
	ErrStructuralChangeDuringDistribute = errors.New("ecs: structural change during distributed iteration")
	// ErrEntityNotAlive indicates an operation on a destroyed or stale entity.
	ErrEntityNotAlive = errors.New("ecs: entity not alive")
	// ErrComponentAlreadyAttached indicates an entity already holds the component type.
	ErrComponentAlreadyAttached = errors.New("ecs: component already attached to entity")
	// ErrUnknownStreamMode indicates a stream mode outside the declared set.
	ErrUnknownStreamMode = errors.New("ecs: unknown stream mode")
	// ErrWorkerPoolClosed indicates jobs cannot be submitted because the pool closed.
	ErrWorkerPoolClosed = errors.New("ecs: worker pool closed")
	// ErrSystemAlreadyScheduled indicates a system placed in two groups.
	ErrSystemAlreadyScheduled = errors.New("ecs: system already scheduled in a group")
	// ErrForeignSystem indicates a system that belongs to another world.
	ErrForeignSystem = errors.New("ecs: system belongs to a different world")
)
