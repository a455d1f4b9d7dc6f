package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Cleanup(func() {
		Logger.SetOutput(os.Stdout)
		Logger.SetLevel(logrus.InfoLevel)
		Logger.SetFormatter(&logrus.TextFormatter{})
	})

	t.Run("rejects_unknown_level", func(t *testing.T) {
		_, err := Init("loud", "text", "")
		assert.Error(t, err)
	})

	t.Run("rejects_unknown_format", func(t *testing.T) {
		_, err := Init("info", "xml", "")
		assert.Error(t, err)
	})

	t.Run("writes_to_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "monitor.log")
		closer, err := Init("debug", "json", path)
		require.NoError(t, err)

		Component("test").Debug("hello")
		require.NoError(t, closer.Close())
		Logger.SetOutput(os.Stdout)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"test"`)
		assert.Contains(t, string(data), `"msg":"hello"`)
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Logger.SetOutput(&buf)
	t.Cleanup(func() { Logger.SetOutput(os.Stdout) })

	Component("slicer").Info("Starting...")
	assert.Contains(t, buf.String(), "component=slicer")
}
