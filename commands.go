package ecs

import "fmt"

// NewCreateEntityCommand enqueues an entity creation with the given values.
// If target is non-nil it receives the new reference.
func NewCreateEntityCommand(target *EntityRef, values ...ComponentValue) Command {
	return createEntityCommand{target: target, values: values}
}

// NewDeleteEntityCommand enqueues an entity deletion. Stale entities are
// ignored when the command runs.
func NewDeleteEntityCommand(e EntityRef) Command {
	return deleteEntityCommand{entity: e}
}

// NewAddComponentsCommand enqueues attaching values to an entity.
func NewAddComponentsCommand(e EntityRef, values ...ComponentValue) Command {
	return addComponentsCommand{entity: e, values: values}
}

// NewRemoveComponentsCommand enqueues detaching types from an entity.
func NewRemoveComponentsCommand(e EntityRef, types ...ComponentTypeID) Command {
	return removeComponentsCommand{entity: e, types: types}
}

type createEntityCommand struct {
	target *EntityRef
	values []ComponentValue
}

type deleteEntityCommand struct {
	entity EntityRef
}

type addComponentsCommand struct {
	entity EntityRef
	values []ComponentValue
}

type removeComponentsCommand struct {
	entity EntityRef
	types  []ComponentTypeID
}

func (c createEntityCommand) Apply(world *World) error {
	e, err := world.NewEntity(c.values...)
	if err != nil {
		return err
	}
	if c.target != nil {
		*c.target = e
	}
	return nil
}

func (c deleteEntityCommand) Apply(world *World) error {
	if c.entity.IsZero() {
		return fmt.Errorf("ecs: delete zero entity")
	}
	return world.DeleteEntity(c.entity)
}

func (c addComponentsCommand) Apply(world *World) error {
	if c.entity.IsZero() {
		return fmt.Errorf("ecs: add components to zero entity")
	}
	return world.AddComponents(c.entity, c.values...)
}

func (c removeComponentsCommand) Apply(world *World) error {
	if c.entity.IsZero() {
		return fmt.Errorf("ecs: remove components from zero entity")
	}
	return world.RemoveComponents(c.entity, c.types...)
}

var (
	_ Command = createEntityCommand{}
	_ Command = deleteEntityCommand{}
	_ Command = addComponentsCommand{}
	_ Command = removeComponentsCommand{}
)
