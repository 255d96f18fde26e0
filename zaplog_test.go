package ecs

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLogger(zap.New(core)).With("group", "physics")

	logger.Info("system registered", "system", "move", "rows", 3)
	logger.Error("group error", "err", "boom")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["group"] != "physics" || first["system"] != "move" || first["rows"] != int64(3) {
		t.Fatalf("unexpected fields %v", first)
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].Message != "group error" {
		t.Fatalf("unexpected error entry %+v", entries[1].Entry)
	}
}

func TestZapLoggerNil(t *testing.T) {
	if _, ok := NewZapLogger(nil).(noopLogger); !ok {
		t.Fatalf("nil zap logger should yield the no-op logger")
	}
}

func TestWorldLogsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	w := NewWorld(WithLogger(NewZapLogger(zap.New(core))))
	hp, err := RegisterComponent[health](w, "health", SeqFormat())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := w.NewSystem(SystemConfig{Name: "regen", Requires: []ComponentTypeID{hp.ID()}}); err != nil {
		t.Fatalf("new system: %v", err)
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if logs.FilterMessage("system registered").Len() != 1 || logs.FilterMessage("world sealed").Len() != 1 {
		t.Fatalf("expected lifecycle logs, got %v", logs.All())
	}
}
