package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgquery/internal/doctor"
	"github.com/pthm/pgquery/test/testutil"
)

func TestDoctor(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testutil.SchemaYAML()), 0o644))

	t.Run("migrated database passes", func(t *testing.T) {
		db := testutil.DB(t)
		report, err := doctor.New(db, path).Run(ctx)
		require.NoError(t, err)
		assert.False(t, report.HasErrors())
		assert.Zero(t, report.Warnings)
		// schema, migrated, schema_sync, three tables, queries
		assert.Equal(t, 7, report.Passed)
	})

	t.Run("empty database", func(t *testing.T) {
		db := testutil.EmptyDB(t)
		report, err := doctor.New(db, path).Run(ctx)
		require.NoError(t, err)
		assert.True(t, report.HasErrors())
		assert.Equal(t, 3, report.Errors, "every table is missing")
		assert.Equal(t, 1, report.Warnings, "no migration records")
	})

	t.Run("drifted table", func(t *testing.T) {
		db := testutil.DB(t)
		_, err := db.ExecContext(ctx, `ALTER TABLE posts ADD COLUMN legacy text`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `ALTER TABLE teams DROP COLUMN name`)
		require.NoError(t, err)

		report, err := doctor.New(db, path).Run(ctx)
		require.NoError(t, err)

		byName := map[string]doctor.CheckResult{}
		for _, c := range report.Checks {
			if c.Category == "Tables" {
				byName[c.Name] = c
			}
		}
		assert.Equal(t, doctor.StatusWarn, byName["posts"].Status)
		assert.Contains(t, byName["posts"].Details, "legacy")
		assert.Equal(t, doctor.StatusFail, byName["teams"].Status)
		assert.Contains(t, byName["teams"].Details, "name")
		assert.Equal(t, doctor.StatusPass, byName["users"].Status)
	})
}
