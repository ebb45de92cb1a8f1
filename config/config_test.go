package config

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/etherlink/etherlink/util"
)

func TestConfig_Load(t *testing.T) {
	l := util.NewTestLogger()

	c := NewC(l)
	assert.Error(t, c.LoadString(" invalid yaml"))

	c = NewC(l)
	assert.Error(t, c.LoadString(""))

	c = NewC(l)
	assert.Nil(t, c.LoadString("device:\n  io_base: 768"))
	expected := map[string]any{
		"device": map[string]any{
			"io_base": 768,
		},
	}
	assert.Equal(t, expected, c.Settings)
}

func TestConfig_Get(t *testing.T) {
	l := util.NewTestLogger()
	// test simple type
	c := NewC(l)
	c.Settings["device"] = map[string]any{"variant": "3c509b"}
	assert.Equal(t, "3c509b", c.Get("device.variant"))

	// test complex type
	inner := []map[string]any{{"name": "1", "mode": "2"}}
	c.Settings["device"] = map[string]any{"variant": inner}
	assert.EqualValues(t, inner, c.Get("device.variant"))

	// test missing
	assert.Nil(t, c.Get("device.nope"))
}

func TestConfig_GetStringSlice(t *testing.T) {
	l := util.NewTestLogger()
	c := NewC(l)
	c.Settings["slice"] = []any{"one", "two"}
	assert.Equal(t, []string{"one", "two"}, c.GetStringSlice("slice", []string{}))
}

func TestConfig_GetBool(t *testing.T) {
	l := util.NewTestLogger()
	c := NewC(l)
	c.Settings["bool"] = true
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "true"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = false
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "false"
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "Y"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "yEs"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "N"
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "nO"
	assert.Equal(t, false, c.GetBool("bool", true))
}

func TestConfig_GetUint16(t *testing.T) {
	l := util.NewTestLogger()
	c := NewC(l)
	c.Settings["port"] = 0x300
	assert.Equal(t, uint16(0x300), c.GetUint16("port", 0))

	// out of range falls back to the default
	c.Settings["port"] = 0x10000
	assert.Equal(t, uint16(0x250), c.GetUint16("port", 0x250))

	c.Settings["port"] = -1
	assert.Equal(t, uint16(0x250), c.GetUint16("port", 0x250))
}

func TestConfig_HasChanged(t *testing.T) {
	l := util.NewTestLogger()
	// No reload has occurred, return false
	c := NewC(l)
	c.Settings["test"] = "hi"
	assert.False(t, c.HasChanged(""))

	// Test key change
	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "no"}
	assert.True(t, c.HasChanged("test"))
	assert.True(t, c.HasChanged(""))

	// No key change
	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "hi"}
	assert.False(t, c.HasChanged("test"))
	assert.False(t, c.HasChanged(""))
}

func TestConfig_ReloadConfig(t *testing.T) {
	l := util.NewTestLogger()
	done := make(chan bool, 1)

	c := NewC(l)
	assert.Nil(t, c.LoadString("outer:\n  inner: hi"))

	assert.False(t, c.HasChanged("outer.inner"))
	assert.False(t, c.HasChanged("outer"))
	assert.False(t, c.HasChanged(""))

	c.RegisterReloadCallback(func(c *C) {
		done <- true
	})

	assert.Nil(t, c.ReloadConfigString("outer:\n  inner: ho"))
	assert.True(t, c.HasChanged("outer.inner"))
	assert.True(t, c.HasChanged("outer"))
	assert.True(t, c.HasChanged(""))

	// Make sure we call the callbacks
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		panic("timeout")
	}

}

func TestConfig_CatchHUP(t *testing.T) {
	l := util.NewTestLogger()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	assert.Nil(t, os.WriteFile(path, []byte("outer: hi"), 0o644))

	c := NewC(l)
	assert.Nil(t, c.Load(dir))
	assert.Equal(t, "hi", c.GetString("outer", ""))

	done := make(chan bool, 1)
	c.RegisterReloadCallback(func(c *C) {
		done <- true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.CatchHUP(ctx)

	assert.Nil(t, os.WriteFile(path, []byte("outer: ho"), 0o644))
	assert.Nil(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}

	assert.Equal(t, "ho", c.GetString("outer", ""))
}
