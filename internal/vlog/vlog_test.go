package vlog_test

import (
	"testing"

	"github.com/badu/vortex/internal/vlog"
)

func TestErrorfDoesNotPanic(t *testing.T) {
	l := vlog.New("test")
	l.Errorf("connection %s failed: %v", "127.0.0.1:1234", "boom")
	l.WithField("request_id", "abc").Errorf("handler panic: %v", "oops")
}
