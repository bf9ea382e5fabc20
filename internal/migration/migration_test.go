package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/facilitycore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
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
	assert.Equal(t, ups, downs)
}

func TestApplyRejectsNonPostgres(t *testing.T) {
	err := Apply(nil, config.Config{DBType: "sqlite", DBRunMigrations: true}, zap.NewNop())
	require.ErrorIs(t, err, ErrUnsupportedDatabase)
}

func TestApplySkipsWhenDisabled(t *testing.T) {
	assert.NoError(t, Apply(nil, config.Config{DBType: "sqlite"}, zap.NewNop()))
}
