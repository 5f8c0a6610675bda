package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
)

// setupTestLogger points the console core at a buffer so assertions can
// read what was logged.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	initializeLogger(cfg, zapcore.AddSync(buf))
	return buf
}

// resetGlobalLogger undoes the singleton between subtests.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

func TestInitializeLogger(t *testing.T) {
	t.Run("console format colorizes the level", func(t *testing.T) {
		resetGlobalLogger()

		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "extractor-test",
			Colors:      config.ColorConfig{Info: "green"},
		}
		buf := setupTestLogger(cfg)

		GetLogger().Info("hola desde el extractor")
		Sync()

		out := buf.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "hola desde el extractor")
		assert.Contains(t, out, colorGreen)
		assert.Contains(t, out, colorReset)
	})

	t.Run("json format emits structured entries", func(t *testing.T) {
		resetGlobalLogger()

		cfg := config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "extractor-json",
		}
		buf := setupTestLogger(cfg)

		GetLogger().Warn("fila descartada", zap.String("siniestro", "4927551"))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "extractor-json", entry["logger"])
		assert.Equal(t, "fila descartada", entry["msg"])
		assert.Equal(t, "4927551", entry["siniestro"])
	})

	t.Run("file core writes rotated json", func(t *testing.T) {
		resetGlobalLogger()

		logPath := filepath.Join(t.TempDir(), "extractor.log")
		cfg := config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logPath,
			MaxSize: 1,
		}
		InitializeLogger(cfg)

		GetLogger().Error("esto va al archivo")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "esto va al archivo")
	})

	t.Run("second initialization is a no-op", func(t *testing.T) {
		resetGlobalLogger()

		buf1 := setupTestLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "primero"})
		first := GetLogger()

		buf2 := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "segundo"})
		second := GetLogger()

		assert.Equal(t, first, second)
		second.Info("mensaje de prueba")
		Sync()

		assert.Contains(t, buf1.String(), "primero")
		assert.Contains(t, buf1.String(), "mensaje de prueba")
		assert.NotContains(t, buf1.String(), "segundo")
		assert.Empty(t, buf2.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("falls back to a development logger before init", func(t *testing.T) {
		resetGlobalLogger()
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the stored instance after init", func(t *testing.T) {
		resetGlobalLogger()
		InitializeLogger(config.LoggerConfig{Level: "info", ServiceName: "global"})
		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}
