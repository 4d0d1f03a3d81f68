package automigrate

import (
	"database/sql"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samhotchkiss/otter-relay/migrations"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	require.Equal(t, keys(ups), keys(downs))

	body, err := fs.ReadFile(migrations.FS, "001_conversation_state.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "conversation_state")
	require.Contains(t, string(body), "expires_at")
}

func TestRunRequiresDB(t *testing.T) {
	require.Error(t, Run(nil, nil))
}

func TestRunAgainstPostgres(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("RELAY_TEST_DATABASE_URL"))
	if url == "" {
		t.Skip("RELAY_TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Run(db, nil))
	// Second run is a no-op.
	require.NoError(t, Run(db, nil))

	var exists bool
	require.NoError(t, db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'conversation_state')`,
	).Scan(&exists))
	require.True(t, exists)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
