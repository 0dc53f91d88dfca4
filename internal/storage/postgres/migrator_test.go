package postgres

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestParseMigrations(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_payments.up.sql":   migrationFile("CREATE TABLE p (id INT);"),
		"sql/migrations/0002_payments.down.sql": migrationFile("DROP TABLE IF EXISTS p;"),
		"sql/migrations/0001_ledger.up.sql":     migrationFile("CREATE TABLE l (id INT);"),
		"sql/migrations/0001_ledger.down.sql":   migrationFile("DROP TABLE IF EXISTS l;"),
	}

	migrations, err := parseMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, "0001_ledger", migrations[0].String())
	require.Equal(t, "0002_payments", migrations[1].String())
	require.Equal(t, "DROP TABLE IF EXISTS l;", migrations[0].body(migrationDown))
	require.Equal(t, "CREATE TABLE p (id INT);", migrations[1].body(migrationUp))
}

func TestParseMigrations_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fsys    fstest.MapFS
		wantErr string
	}{
		"missing down": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_ledger.up.sql": migrationFile("CREATE TABLE l (id INT);"),
			},
			wantErr: "both up and down",
		},
		"bad file name": {
			fsys: fstest.MapFS{
				"sql/migrations/ledger.sql": migrationFile("SELECT 1;"),
			},
			wantErr: "invalid migration file name",
		},
		"blank body": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_ledger.up.sql":   migrationFile("  \n\t"),
				"sql/migrations/0001_ledger.down.sql": migrationFile("DROP TABLE l;"),
			},
			wantErr: "is empty",
		},
		"name mismatch": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_ledger.up.sql":   migrationFile("CREATE TABLE l (id INT);"),
				"sql/migrations/0001_wallet.down.sql": migrationFile("DROP TABLE l;"),
			},
			wantErr: "name mismatch",
		},
		"no directory": {
			fsys:    fstest.MapFS{},
			wantErr: "list migrations",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := parseMigrations(tc.fsys)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestParseMigrations_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := parseMigrations(migrationsFS)
	require.NoError(t, err)

	want := []string{"ledger", "payment_processes", "payments", "outbox_events", "processed_events", "ledger_reason_index"}
	require.Len(t, migrations, len(want))
	for i, m := range migrations {
		require.Equal(t, int64(i+1), m.Version)
		require.Equal(t, want[i], m.Name)
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	all := []migration{
		{Version: 1, Name: "ledger"},
		{Version: 2, Name: "payment_processes"},
		{Version: 3, Name: "payments"},
	}
	now := time.Now()

	versions := func(plan []migration) []int64 {
		out := make([]int64, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.Version)
		}
		return out
	}

	t.Run("up applies missing in order", func(t *testing.T) {
		plan, err := planMigrations(all, map[int64]time.Time{1: now}, migrationUp, 0)
		require.NoError(t, err)
		require.Equal(t, []int64{2, 3}, versions(plan))
	})

	t.Run("up honours steps", func(t *testing.T) {
		plan, err := planMigrations(all, nil, migrationUp, 1)
		require.NoError(t, err)
		require.Equal(t, []int64{1}, versions(plan))
	})

	t.Run("down rolls back newest first", func(t *testing.T) {
		applied := map[int64]time.Time{1: now, 2: now, 3: now}
		plan, err := planMigrations(all, applied, migrationDown, 2)
		require.NoError(t, err)
		require.Equal(t, []int64{3, 2}, versions(plan))
	})

	t.Run("down with nothing applied", func(t *testing.T) {
		plan, err := planMigrations(all, nil, migrationDown, 1)
		require.NoError(t, err)
		require.Empty(t, plan)
	})

	t.Run("down refuses unknown version", func(t *testing.T) {
		_, err := planMigrations(all, map[int64]time.Time{9: now}, migrationDown, 1)
		require.ErrorContains(t, err, "unknown migration version 9")
	})
}
