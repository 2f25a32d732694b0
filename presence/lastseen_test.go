package presence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLastSeen(t *testing.T) {
	ls, err := OpenLastSeen(filepath.Join(t.TempDir(), "lastseen.db"))
	assert.NoError(t, err)
	defer ls.Close()

	_, ok, err := ls.Get("22BCS101")
	assert.NoError(t, err)
	assert.False(t, ok)

	at := time.Unix(1720000000, 0)
	assert.NoError(t, ls.Touch("22BCS101", at))

	got, ok, err := ls.Get("22BCS101")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at.Unix(), got.Unix())

	// Last writer wins.
	later := at.Add(time.Hour)
	assert.NoError(t, ls.Touch("22BCS101", later))
	got, _, _ = ls.Get("22BCS101")
	assert.Equal(t, later.Unix(), got.Unix())
}
