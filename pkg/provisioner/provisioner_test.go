package provisioner

import (
	"strings"
	"testing"

	"github.com/avmorch/orchestrator/pkg/heat"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
)

func TestStackName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"with prefix", "dev", "dev-alice-avm-1"},
		{"without prefix", "", "alice-avm-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StackName(tt.prefix, "alice", "avm-1")
			if got != tt.want {
				t.Errorf("StackName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNamingHelpers(t *testing.T) {
	if got := AMQPUser("avm-1"); got != "avm-1" {
		t.Errorf("AMQPUser() = %q", got)
	}
	if got := AdbContainer("avm-1"); got != "avm-1_adb" {
		t.Errorf("AdbContainer() = %q", got)
	}
	if got := PrjContainer("proj-1"); got != "proj-1_prjdata" {
		t.Errorf("PrjContainer() = %q", got)
	}
	if got := ComposeProject("avm-1"); got != "avm-avm-1" {
		t.Errorf("ComposeProject() = %q", got)
	}
}

func TestIsClassifiedHeatError(t *testing.T) {
	if !IsClassifiedHeatError(heat.NewAVMNotFoundError("gone")) {
		t.Error("AVMNotFoundError should be classified")
	}
	if !IsClassifiedHeatError(heat.NewAVMImageNotFoundError("The Image x could not be found")) {
		t.Error("AVMImageNotFoundError should be classified")
	}
	if IsClassifiedHeatError(heat.NewAVMCreationError("boom")) {
		t.Error("AVMCreationError should not be classified")
	}
}

func TestPlayerUpEnv(t *testing.T) {
	msg := taskmessage.AVMContainersCreateMsg{
		AVMID:        "avm-1",
		ProjectID:    "proj-1",
		AMQPUser:     "avm-1",
		AMQPPassword: "secret",
		HWConfig: taskmessage.HWConfig{
			Width: 720, Height: 1280, DPI: 320, Sensors: true,
		},
		VNCSecret:      "vnc",
		AndroidVersion: "11",
	}
	env := PlayerUpEnv(msg, "10.0.0.5", "broker.local")

	want := map[string]bool{
		"AIC_AVM_PREFIX=avm-1_":            true,
		"AIC_PLAYER_VM_HOST=10.0.0.5":      true,
		"AIC_PLAYER_AMQP_HOST=broker.local": true,
		"AIC_PLAYER_MAX_DIMENSION=1280":     true,
		"AIC_PLAYER_ENABLE_SENSORS=true":    true,
		"AIC_PLAYER_ENABLE_GSM=false":       true,
	}
	for _, e := range env {
		delete(want, e)
	}
	if len(want) != 0 {
		var missing []string
		for k := range want {
			missing = append(missing, k)
		}
		t.Errorf("missing env entries: %s", strings.Join(missing, ", "))
	}
}
