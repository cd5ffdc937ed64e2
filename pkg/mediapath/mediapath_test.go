package mediapath

import "testing"

func TestAPKPath(t *testing.T) {
	cfg := Config{APKPathTemplate: "/var/lib/avmorch/apks/{apk_id}"}
	got := cfg.APKPath("abc-123")
	want := "/var/lib/avmorch/apks/abc-123"
	if got != want {
		t.Errorf("APKPath() = %q, want %q", got, want)
	}
}

func TestCameraPath(t *testing.T) {
	cfg := Config{CameraPathTemplate: "/var/lib/avmorch/camera/{camera_id}.mp4"}
	got := cfg.CameraPath("cam-9")
	want := "/var/lib/avmorch/camera/cam-9.mp4"
	if got != want {
		t.Errorf("CameraPath() = %q, want %q", got, want)
	}
}

func TestPathsDoNotCrossSubstitute(t *testing.T) {
	cfg := Config{
		APKPathTemplate:    "/apks/{apk_id}",
		CameraPathTemplate: "/camera/{camera_id}",
	}
	if got := cfg.APKPath("{camera_id}"); got != "/apks/{camera_id}" {
		t.Errorf("APKPath() = %q, want literal placeholder preserved", got)
	}
}
