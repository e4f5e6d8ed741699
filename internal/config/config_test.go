package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requiredEnv sets the four variables validate() always demands, so tests
// that only care about one setting don't have to repeat them.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ORION_ENDPOINT", "http://orion.example")
	t.Setenv("FIWARE_SERVICE", "fleet")
	t.Setenv("FIWARE_SERVICEPATH", "/demo")
	t.Setenv("DELIVERY_ROBOT_LIST", "robot-1,robot-2")
}

func TestNew_AppliesDefaultsWhenEnvIsAbsent(t *testing.T) {
	requiredEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.WorldModelTimeout)
	assert.Equal(t, "delivery_robot", cfg.DeliveryRobotType)
	assert.Equal(t, "place", cfg.PlaceType)
	assert.Equal(t, "route_plan", cfg.RoutePlanType)
	assert.Equal(t, "token", cfg.TokenType)
	assert.Equal(t, "robot_ui", cfg.RobotUIType)
	assert.Equal(t, 500*time.Millisecond, cfg.ThrottleInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 25, cfg.MaxPollAttempts)
	assert.Equal(t, []string{"ordering"}, cfg.OrderingCalls)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestNew_EnvironmentOverridesDefaults(t *testing.T) {
	requiredEnv(t)
	t.Setenv("LISTEN_PORT", "9090")
	t.Setenv("MAX_POLL", "3")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ORDERING_LIST", "ordering,warehouse")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.MaxPollAttempts)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"ordering", "warehouse"}, cfg.OrderingCalls)
}

func TestNew_OptionsOverrideEnvironment(t *testing.T) {
	requiredEnv(t)
	t.Setenv("LISTEN_PORT", "9090")

	cfg, err := New(WithPort(9999), WithLogLevel("warn"))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port, "an explicit option wins over the environment")
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestNew_WithFleetAndUIIDTableOptions(t *testing.T) {
	requiredEnv(t)

	cfg, err := New(
		WithFleet([]string{"robot-a", "robot-b"}),
		WithUIIDTable(map[string]string{"robot-a": "ui-a"}),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"robot-a", "robot-b"}, cfg.Fleet)
	assert.Equal(t, map[string]string{"ui-a": "robot-a"}, cfg.ReverseUIIDTable())
}

func TestNew_InvalidPortOptionFails(t *testing.T) {
	requiredEnv(t)
	_, err := New(WithPort(70000))
	require.Error(t, err)
}

func TestNew_MissingFleetFailsValidation(t *testing.T) {
	t.Setenv("ORION_ENDPOINT", "http://orion.example")
	t.Setenv("FIWARE_SERVICE", "fleet")
	t.Setenv("FIWARE_SERVICEPATH", "/demo")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fleet")
}

func TestNew_MissingWorldModelEndpointFailsValidation(t *testing.T) {
	t.Setenv("FIWARE_SERVICE", "fleet")
	t.Setenv("FIWARE_SERVICEPATH", "/demo")
	t.Setenv("DELIVERY_ROBOT_LIST", "robot-1")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORION_ENDPOINT")
}

func TestNew_MissingServiceTenancyFailsValidation(t *testing.T) {
	t.Setenv("ORION_ENDPOINT", "http://orion.example")
	t.Setenv("DELIVERY_ROBOT_LIST", "robot-1")

	_, err := New()
	require.Error(t, err)
}

func TestNew_MalformedIDTableFails(t *testing.T) {
	requiredEnv(t)
	t.Setenv("ID_TABLE", "robot-1-without-equals")

	_, err := New()
	require.Error(t, err)
}

func TestNew_IDTableParsesRobotToUIMapping(t *testing.T) {
	requiredEnv(t)
	t.Setenv("ID_TABLE", "robot-1=ui-1,robot-2=ui-2")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"robot-1": "ui-1", "robot-2": "ui-2"}, cfg.UIIDTable)
}

func TestNew_InvalidTimeZoneFails(t *testing.T) {
	requiredEnv(t)
	t.Setenv("TZ", "Not/AZone")

	_, err := New()
	require.Error(t, err)
}

func TestNew_FleetConfigFileIsUsedOnlyWhenEnvFleetIsAbsent(t *testing.T) {
	t.Setenv("ORION_ENDPOINT", "http://orion.example")
	t.Setenv("FIWARE_SERVICE", "fleet")
	t.Setenv("FIWARE_SERVICEPATH", "/demo")

	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fleet:\n  - robot-a\n  - robot-b\nui_id_table:\n  robot-a: ui-a\n"), 0o600))
	t.Setenv("FLEET_CONFIG_FILE", path)

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"robot-a", "robot-b"}, cfg.Fleet)
	assert.Equal(t, map[string]string{"robot-a": "ui-a"}, cfg.UIIDTable)
}

func TestNew_FleetConfigFileIsIgnoredWhenDeliveryRobotListIsSet(t *testing.T) {
	requiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fleet:\n  - robot-from-file\n"), 0o600))
	t.Setenv("FLEET_CONFIG_FILE", path)

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"robot-1", "robot-2"}, cfg.Fleet, "DELIVERY_ROBOT_LIST takes priority over the fleet file")
}
