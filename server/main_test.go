package server

import (
	"os"
	"testing"

	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}
