package tools

import "testing"

func TestRoleFor(t *testing.T) {
	cases := map[string]Role{
		"system":        RoleSystem,
		"scheduled-abc": RoleScheduled,
		"scheduled":     RoleScheduled,
		"client-1":      RoleOwner,
		"channel:sms":   RoleOwner,
		"":              RoleOwner,
	}
	for clientID, want := range cases {
		if got := RoleFor(clientID); got != want {
			t.Errorf("RoleFor(%q) = %s, want %s", clientID, got, want)
		}
	}
}

func TestEvaluatePolicy(t *testing.T) {
	ownerOnly := &Tool{Name: "core_memory_append", OwnerOnly: true}
	open := &Tool{Name: "search_memory"}

	if EvaluatePolicy(ownerOnly, RoleScheduled) {
		t.Error("scheduled sender allowed to use owner-only tool")
	}
	if EvaluatePolicy(ownerOnly, RoleSystem) {
		t.Error("system sender allowed to use owner-only tool")
	}
	if !EvaluatePolicy(ownerOnly, RoleOwner) {
		t.Error("owner refused own tool")
	}
	if !EvaluatePolicy(open, RoleScheduled) {
		t.Error("open tool refused")
	}
}

func TestEffectiveForFiltersByRole(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{Name: "search_memory"})
	reg.Register(&Tool{Name: "send_owner_message", OwnerOnly: true})

	ownerSet := reg.EffectiveFor(RoleOwner)
	if len(ownerSet) != 2 {
		t.Errorf("owner set = %d tools", len(ownerSet))
	}

	schedSet := reg.EffectiveFor(RoleScheduled)
	if len(schedSet) != 1 || schedSet[0].Name != "search_memory" {
		t.Errorf("scheduled set = %+v", schedSet)
	}
}
