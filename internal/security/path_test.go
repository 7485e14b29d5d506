package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	valid := []string{
		"config.json",
		"data/archive.db",
		"/var/lib/studychat/archive.db",
		"./local/config.json",
	}
	for _, path := range valid {
		assert.NoError(t, ValidateFilePath(path), path)
	}

	invalid := []string{
		"",
		"../secrets.json",
		"data/../../etc/passwd",
		"data/archive.db\x00.txt",
	}
	for _, path := range invalid {
		assert.Error(t, ValidateFilePath(path), path)
	}
}
