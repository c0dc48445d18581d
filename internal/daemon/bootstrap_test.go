package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackgroundCommand(t *testing.T) {
	cmd := BackgroundCommand("/usr/local/bin/appguard", "--config", "/etc/appguard/config.yaml")

	assert.Equal(t, "/usr/local/bin/appguard", cmd.Path)
	assert.Equal(t, []string{"/usr/local/bin/appguard", "run", "--config", "/etc/appguard/config.yaml"}, cmd.Args)
	if assert.NotNil(t, cmd.SysProcAttr) {
		assert.True(t, cmd.SysProcAttr.Setsid)
	}
	assert.Nil(t, cmd.Stdin)
}

func TestStartBackground_MissingBinary(t *testing.T) {
	_, err := StartBackground("/nonexistent/appguard", "")
	assert.Error(t, err)
}
