package main

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"
)

func TestRunPruneRejectsNonPositiveRetentionBeforeTouchingStorage(t *testing.T) {
	old := pruneRetentionDays
	pruneRetentionDays = 0
	defer func() { pruneRetentionDays = old }()

	err := runPrune(&cobra.Command{}, nil)
	var ce *cliError
	if !errors.As(err, &ce) || ce.code != 2 {
		t.Fatalf("expected a code-2 invalid-argument error, got %v", err)
	}
}
