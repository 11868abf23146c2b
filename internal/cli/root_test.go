package cli

import (
	"testing"
)

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"run", "state"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Errorf("command %s not registered: %v", name, err)
		}
	}

	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatalf("run command missing: %v", err)
	}
	for _, flag := range []string{"full-refresh", "date", "entities"} {
		if run.Flags().Lookup(flag) == nil {
			t.Errorf("run flag --%s not registered", flag)
		}
	}

	for _, sub := range []string{"list", "reset"} {
		if _, _, err := root.Find([]string{"state", sub}); err != nil {
			t.Errorf("state subcommand %s not registered: %v", sub, err)
		}
	}
}

func TestStateResetRejectsUnknownEntity(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"state", "reset", "not-an-entity"})

	if err := root.Execute(); err == nil {
		t.Fatal("expected error for unknown entity")
	}
}
