package gerrydb_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb"
)

func init() {
	if err := godotenv.Load("../../.env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: read .env: %v", err)
	}
}

// TestLiveServer runs against a real GerryDB server named by
// GERRYDB_TEST_SERVER and GERRYDB_TEST_API_KEY.
func TestLiveServer(t *testing.T) {
	if os.Getenv("GERRYDB_TEST_SERVER") == "" {
		t.Skip("GERRYDB_TEST_SERVER not set")
	}
	ctx := context.Background()
	db, err := gerrydb.NewFromEnv()
	require.NoError(t, err)
	defer db.Close()

	wc, err := db.Context(ctx, "go client integration test")
	require.NoError(t, err)

	ns := "go_" + uuid.NewString()[:8]
	created, err := wc.Namespaces().Create(ctx, ns, "integration test namespace", false)
	require.NoError(t, err)
	assert.Equal(t, ns, created.Path)

	got, err := db.Namespaces().Get(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, created.Description, got.Description)

	_, err = wc.Columns().Create(ctx, ns, gerrydb.ColumnCreate{
		CanonicalPath: "total_pop",
		Description:   "Total population",
		Kind:          gerrydb.ColumnKindCount,
		Type:          gerrydb.ColumnTypeInt,
	})
	require.NoError(t, err)
	cols, err := db.Columns().All(ctx, ns)
	require.NoError(t, err)
	require.Len(t, cols, 1)
}
