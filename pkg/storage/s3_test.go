package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "archives/s1/session.json", ArchiveKey("s1"))
	assert.Equal(t, "archives/s1/session.json", ArchiveKey("../s1"), "path traversal stripped")
}

func TestPresignExpireDefault(t *testing.T) {
	s := &S3{cfg: S3Config{}}
	assert.Equal(t, 15*60, int(s.PresignExpire().Seconds()))
	s.cfg.PresignExpireMinutes = 5
	assert.Equal(t, 5*60, int(s.PresignExpire().Seconds()))
}
