package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-engine/internal/reconcile"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, reconcile.Summary{RunID: uuid.New(), Exact: 2, Fuzzy: 1, Overlap: 3}, time.Second)

	out := buf.String()
	assert.Contains(t, out, "removed")
	assert.Contains(t, out, "exact duplicates:    2")
	assert.Contains(t, out, "total:               6")
}

func TestPrintSummary_DryRun(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, reconcile.Summary{DryRun: true}, 0)
	assert.Contains(t, buf.String(), "would remove")
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := rootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--dry-run", "--batch-size", "50"}))

	dry, err := cmd.Flags().GetBool("dry-run")
	require.NoError(t, err)
	assert.True(t, dry)

	size, err := cmd.Flags().GetInt("batch-size")
	require.NoError(t, err)
	assert.Equal(t, 50, size)
}
