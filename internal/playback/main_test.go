package playback

import (
	"io"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	SetLogOutput(io.Discard)
	os.Exit(m.Run())
}
