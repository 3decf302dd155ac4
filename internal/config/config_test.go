package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", c.HTTPAddr)
	assert.Equal(t, StoreDriverPostgres, c.StoreDriver)
	assert.Equal(t, []string{"kafka:9092"}, c.KafkaBrokers)
	assert.Equal(t, 3*time.Second, c.LockTimeout)
	assert.Equal(t, 4, c.NotifierWorkers)
	assert.EqualValues(t, 500, c.StaffFeedSize)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("STORE_DRIVER", " Memory ")
	t.Setenv("CATALOG_FILE", "catalog.yaml")
	t.Setenv("LOCK_TIMEOUT", "750ms")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, StoreDriverMemory, c.StoreDriver)
	assert.Equal(t, 750*time.Millisecond, c.LockTimeout)
}

func TestLoadRejectsBadDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CATALOG_FILE", "")
	_, err = Load()
	assert.Error(t, err)
}
